package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/budget"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
)

// DefaultCallTimeout bounds one attempt of one capability call.
const DefaultCallTimeout = 15 * time.Second

// Gate wraps provider capabilities with the budget pre-check, a per-attempt
// timeout, the provider's circuit breaker and retry. Each attempt waits for
// its budget slot before its timeout starts. Every failure leaves the gate as
// model.ErrProviderUnavailable.
type Gate struct {
	budget   *budget.Manager
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	timeout  time.Duration
	deferral time.Duration
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithCallTimeout sets the per-attempt timeout.
func WithCallTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) GateOption {
	return func(g *Gate) { g.retry = cfg }
}

// WithBreakers sets the per-provider circuit breakers.
func WithBreakers(sb *resilience.ServiceBreakers) GateOption {
	return func(g *Gate) { g.breakers = sb }
}

// WithDeferralThreshold sets the wait beyond which a call fails fast.
func WithDeferralThreshold(d time.Duration) GateOption {
	return func(g *Gate) {
		if d >= 0 {
			g.deferral = d
		}
	}
}

// NewGate creates a Gate over the shared budget manager. b may be nil.
func NewGate(b *budget.Manager, opts ...GateOption) *Gate {
	g := &Gate{
		budget:   b,
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		retry:    resilience.DefaultRetryConfig(),
		timeout:  DefaultCallTimeout,
		deferral: budget.DefaultDeferralThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Breakers returns the gate's circuit breakers for status reporting.
func (g *Gate) Breakers() *resilience.ServiceBreakers { return g.breakers }

// Identity wraps p.
func (g *Gate) Identity(p IdentityLookup) IdentityLookup {
	return &gatedIdentity{gate: g, inner: p}
}

// Searcher wraps p.
func (g *Gate) Searcher(p ArtistSearcher) ArtistSearcher {
	return &gatedSearcher{gate: g, inner: p}
}

// Channel wraps p.
func (g *Gate) Channel(p ChannelAnalytics) ChannelAnalytics {
	return &gatedChannel{gate: g, inner: p}
}

type gatedIdentity struct {
	gate  *Gate
	inner IdentityLookup
}

func (p *gatedIdentity) Name() string { return p.inner.Name() }

func (p *gatedIdentity) LookupIdentifier(ctx context.Context, id model.Identifier) (*model.ProviderRecord, bool, error) {
	return call(ctx, p.gate, p.inner.Name(), "lookup_identifier", func(ctx context.Context) (*model.ProviderRecord, bool, error) {
		return p.inner.LookupIdentifier(ctx, id)
	})
}

type gatedSearcher struct {
	gate  *Gate
	inner ArtistSearcher
}

func (p *gatedSearcher) Name() string { return p.inner.Name() }

func (p *gatedSearcher) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	return call(ctx, p.gate, p.inner.Name(), "search_by_artist_name", func(ctx context.Context) (*model.ProviderRecord, bool, error) {
		return p.inner.SearchByArtistName(ctx, name)
	})
}

type gatedChannel struct {
	gate  *Gate
	inner ChannelAnalytics
}

func (p *gatedChannel) Name() string { return p.inner.Name() }

func (p *gatedChannel) GetSecondaryChannelAnalytics(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error) {
	return call(ctx, p.gate, p.inner.Name(), "channel_analytics", func(ctx context.Context) (*model.AnalyticsRecord, bool, error) {
		return p.inner.GetSecondaryChannelAnalytics(ctx, ref)
	})
}

type callResult[T any] struct {
	val   T
	found bool
}

func call[T any](ctx context.Context, g *Gate, provider, op string, fn func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	start := time.Now()

	if g.budget != nil {
		if ok, wait := g.budget.TryAcquire(provider); !ok && wait > g.deferral {
			return zero, false, unavailable(provider, op,
				eris.Wrapf(budget.ErrDeferred, "retry after %s", wait.Round(time.Second)))
		}
	}

	cb := g.breakers.Get(provider)
	retry := g.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(provider, op)
	}

	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (callResult[T], error) {
		if g.budget != nil {
			var err error
			if ctx, err = g.budget.Reserve(ctx, provider); err != nil {
				return callResult[T]{}, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return resilience.ExecuteVal(attemptCtx, cb, func(ctx context.Context) (callResult[T], error) {
			v, found, err := fn(ctx)
			return callResult[T]{val: v, found: found}, err
		})
	})

	log := zap.L().With(
		zap.String("provider", provider),
		zap.String("operation", op),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		log.Warn("provider call failed", zap.Error(err))
		return zero, false, unavailable(provider, op, err)
	}
	log.Debug("provider call complete", zap.Bool("found", res.found))
	return res.val, res.found, nil
}

func unavailable(provider, op string, err error) error {
	return eris.Wrapf(model.ErrProviderUnavailable, "%s %s: %v", provider, op, err)
}
