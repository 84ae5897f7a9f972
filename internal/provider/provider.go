// Package provider defines the capability interfaces for track data
// providers, their adapters over the wire clients in pkg/, and the gate that
// wraps every call with budget, timeout, circuit breaker and retry.
package provider

import (
	"context"
	"sync"

	"github.com/sells-group/trackscout/internal/model"
)

// IdentityLookup resolves an identifier to its canonical recording. found is
// false with a nil error when the identifier is unknown.
type IdentityLookup interface {
	Name() string
	LookupIdentifier(ctx context.Context, id model.Identifier) (rec *model.ProviderRecord, found bool, err error)
}

// ArtistSearcher enriches a profile from an artist name.
type ArtistSearcher interface {
	Name() string
	SearchByArtistName(ctx context.Context, name string) (rec *model.ProviderRecord, found bool, err error)
}

// ChannelAnalytics fetches secondary channel analytics for a channel URL,
// handle or artist name.
type ChannelAnalytics interface {
	Name() string
	GetSecondaryChannelAnalytics(ctx context.Context, ref string) (rec *model.AnalyticsRecord, found bool, err error)
}

// EnrichmentOrder is the fixed call order of the name-keyed roles after the
// identity lookup. The channel role runs last.
var EnrichmentOrder = []model.Role{
	model.RoleMetadata,
	model.RolePopularity,
	model.RoleSupplementary,
}

// Registry holds the provider configured for each role.
type Registry struct {
	mu        sync.RWMutex
	identity  IdentityLookup
	searchers map[model.Role]ArtistSearcher
	channel   ChannelAnalytics
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		searchers: make(map[model.Role]ArtistSearcher),
	}
}

// SetIdentity registers the identity provider.
func (r *Registry) SetIdentity(p IdentityLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = p
}

// SetSearcher registers the name-keyed provider for role.
func (r *Registry) SetSearcher(role model.Role, p ArtistSearcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchers[role] = p
}

// SetChannel registers the channel analytics provider.
func (r *Registry) SetChannel(p ChannelAnalytics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = p
}

// Identity returns the identity provider, or nil.
func (r *Registry) Identity() IdentityLookup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// Searcher returns the provider for role, or nil.
func (r *Registry) Searcher(role model.Role) ArtistSearcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.searchers[role]
}

// Channel returns the channel analytics provider, or nil.
func (r *Registry) Channel() ChannelAnalytics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Assignment pairs a role with the provider filling it.
type Assignment struct {
	Role     model.Role `json:"role"`
	Provider string     `json:"provider"`
}

// List returns the registered providers in call order.
func (r *Registry) List() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Assignment
	if r.identity != nil {
		out = append(out, Assignment{Role: model.RoleIdentity, Provider: r.identity.Name()})
	}
	for _, role := range EnrichmentOrder {
		if s := r.searchers[role]; s != nil {
			out = append(out, Assignment{Role: role, Provider: s.Name()})
		}
	}
	if r.channel != nil {
		out = append(out, Assignment{Role: model.RoleChannel, Provider: r.channel.Name()})
	}
	return out
}
