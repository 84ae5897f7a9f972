package pipeline

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/provider"
)

// roleOrder is the fixed order used wherever the priority table is silent.
var roleOrder = []model.Role{
	model.RoleIdentity,
	model.RoleMetadata,
	model.RolePopularity,
	model.RoleSupplementary,
	model.RoleChannel,
}

// channelRefRoles are searched, in order, for a YouTube link to the artist's
// channel.
var channelRefRoles = []model.Role{
	model.RoleIdentity,
	model.RoleMetadata,
	model.RoleSupplementary,
}

// Merge reconciles sources into one profile using t. Only found records take
// part and they are looked up by role, so the order sources arrive in does
// not change the result.
func Merge(id model.Identifier, sources []model.SourceRecord, t PriorityTable, scoredAt time.Time) *model.MergedProfile {
	m := &merger{byRole: indexByRole(sources), table: t}

	p := &model.MergedProfile{
		Track:    model.TrackProfile{Identifier: id},
		ScoredAt: scoredAt,
	}

	p.Artist.Name = pickString(m, FieldArtistName, func(r *model.ProviderRecord) string { return r.ArtistName })
	p.Track.Title = pickString(m, FieldTrackTitle, func(r *model.ProviderRecord) string { return r.TrackTitle })
	p.Track.ReleaseTitle = pickString(m, FieldReleaseTitle, func(r *model.ProviderRecord) string { return r.ReleaseTitle })
	p.Track.ReleaseDate = pickFirst(m, FieldReleaseDate, func(r *model.ProviderRecord) *time.Time { return r.ReleaseDate }, isNilTime, formatDate)
	p.Artist.Country = strings.ToUpper(pickString(m, FieldCountry, func(r *model.ProviderRecord) string { return r.Country }))
	p.Track.Label = pickString(m, FieldLabel, func(r *model.ProviderRecord) string { return r.Label })
	p.Track.Publisher = pickString(m, FieldPublisher, func(r *model.ProviderRecord) string { return r.Publisher })

	p.Artist.Followers = pickFirst(m, FieldFollowers, func(r *model.ProviderRecord) int64 { return r.Followers }, nonPositive[int64], formatInt[int64])
	p.Artist.Popularity = pickFirst(m, FieldPopularity, func(r *model.ProviderRecord) int { return r.Popularity }, nonPositive[int], formatInt[int])
	p.Artist.Listeners = pickFirst(m, FieldListeners, func(r *model.ProviderRecord) int64 { return r.Listeners }, nonPositive[int64], formatInt[int64])
	p.Artist.PlayCount = pickFirst(m, FieldPlayCount, func(r *model.ProviderRecord) int64 { return r.PlayCount }, nonPositive[int64], formatInt[int64])

	p.Artist.Genres = unionBy(m, FieldGenres, t.Caps.Genres,
		func(src model.SourceRecord) []string { return src.Record.Genres },
		foldKey, strings.TrimSpace, joinStrings)
	p.Track.Platforms = unionBy(m, FieldPlatforms, t.Caps.Platforms,
		platformsOf, foldKey, strings.TrimSpace, joinStrings)
	p.Contacts = unionBy(m, FieldSocialLinks, t.Caps.SocialLinks,
		linksOf,
		func(l model.SocialLink) string { return foldKey(strings.TrimRight(l.URL, "/")) },
		cleanLink,
		joinLinks)

	if src, ok := m.byRole[model.RoleChannel]; ok && src.Analytics != nil {
		ch := *src.Analytics
		p.Channel = &ch
	}
	p.LabelTexts = labelTexts(m)
	for _, r := range roleOrder {
		if _, ok := m.byRole[r]; ok {
			p.Responded = append(p.Responded, r)
		}
	}
	p.Provenance = m.prov
	return p
}

// ChannelRef returns the reference used to look up the artist's secondary
// channel: the first YouTube link found by a name-keyed or identity source,
// else the artist name.
func ChannelRef(sources []model.SourceRecord, artist string) string {
	byRole := indexByRole(sources)
	for _, r := range channelRefRoles {
		src, ok := byRole[r]
		if !ok {
			continue
		}
		for _, l := range src.Record.SocialLinks {
			if l.Platform == model.PlatformYouTube && strings.TrimSpace(l.URL) != "" {
				return strings.TrimSpace(l.URL)
			}
		}
	}
	return strings.TrimSpace(artist)
}

type merger struct {
	byRole map[model.Role]model.SourceRecord
	table  PriorityTable
	prov   []model.FieldProvenance
}

// indexByRole keeps the first found record per role.
func indexByRole(sources []model.SourceRecord) map[model.Role]model.SourceRecord {
	out := make(map[model.Role]model.SourceRecord, len(sources))
	for _, s := range sources {
		if !s.Found {
			continue
		}
		if _, dup := out[s.Role]; dup {
			continue
		}
		out[s.Role] = s
	}
	return out
}

// pickFirst returns the first non-empty value of field in priority order and
// records its provenance. Absent fields return the zero value.
func pickFirst[T any](m *merger, field string, get func(*model.ProviderRecord) T, empty func(T) bool, format func(T) string) T {
	var (
		out        T
		winner     model.SourceRecord
		won        bool
		candidates int
	)
	for _, role := range m.table.Roles(field) {
		src, ok := m.byRole[role]
		if !ok {
			continue
		}
		v := get(&src.Record)
		if empty(v) {
			continue
		}
		candidates++
		if !won {
			out, winner, won = v, src, true
		}
	}
	if !won {
		var zero T
		return zero
	}
	m.prov = append(m.prov, model.FieldProvenance{
		Field:      field,
		Provider:   winner.Provider,
		Role:       winner.Role,
		Value:      format(out),
		Candidates: candidates,
	})
	return out
}

// pickString is pickFirst for trimmed text fields.
func pickString(m *merger, field string, get func(*model.ProviderRecord) string) string {
	return pickFirst(m, field,
		func(r *model.ProviderRecord) string { return strings.TrimSpace(get(r)) },
		func(s string) bool { return s == "" },
		func(s string) string { return s })
}

// unionBy concatenates the values of field in priority order, drops
// duplicates by key keeping the first seen, and truncates to limit (0 means
// no limit).
func unionBy[T any](m *merger, field string, limit int, get func(model.SourceRecord) []T, key func(T) string, clean func(T) T, format func([]T) string) []T {
	var (
		out        []T
		first      model.SourceRecord
		candidates int
		seen       = make(map[string]bool)
	)
	for _, role := range m.table.Roles(field) {
		src, ok := m.byRole[role]
		if !ok {
			continue
		}
		contributed := false
		for _, v := range get(src) {
			k := key(v)
			if k == "" {
				continue
			}
			contributed = true
			if seen[k] {
				continue
			}
			seen[k] = true
			if len(out) == 0 {
				first = src
			}
			out = append(out, clean(v))
		}
		if contributed {
			candidates++
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) > 0 {
		m.prov = append(m.prov, model.FieldProvenance{
			Field:      field,
			Provider:   first.Provider,
			Role:       first.Role,
			Value:      format(out),
			Candidates: candidates,
		})
	}
	return out
}

// platformsOf returns the record's platforms plus the platform the provider
// itself represents when it found the artist.
func platformsOf(src model.SourceRecord) []string {
	out := append([]string(nil), src.Record.Platforms...)
	switch {
	case src.Role == model.RoleChannel:
		out = append(out, model.PlatformYouTube)
	case provider.IsStreamingPlatform(src.Provider):
		out = append(out, src.Provider)
	}
	return out
}

func linksOf(src model.SourceRecord) []model.SocialLink {
	out := append([]model.SocialLink(nil), src.Record.SocialLinks...)
	if src.Role == model.RoleChannel && src.Analytics != nil && src.Analytics.URL != "" {
		out = append(out, model.SocialLink{
			Platform: model.PlatformYouTube,
			URL:      src.Analytics.URL,
			Source:   src.Provider,
		})
	}
	return out
}

// labelTexts gathers label and copyright lines across sources, label
// priority first, for independence classification.
func labelTexts(m *merger) []string {
	order := append([]model.Role(nil), m.table.Roles(FieldLabel)...)
	for _, r := range roleOrder {
		if !containsRole(order, r) {
			order = append(order, r)
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, r := range order {
		src, ok := m.byRole[r]
		if !ok {
			continue
		}
		for _, s := range []string{src.Record.Label, src.Record.Copyright} {
			k := foldKey(s)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// foldKey is the de-duplication key: NFKC-normalized, case-folded text.
func foldKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(s))
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, got := range roles {
		if got == r {
			return true
		}
	}
	return false
}

func cleanLink(l model.SocialLink) model.SocialLink {
	l.URL = strings.TrimSpace(l.URL)
	return l
}

func isNilTime(t *time.Time) bool { return t == nil || t.IsZero() }

func formatDate(t *time.Time) string { return t.Format("2006-01-02") }

func nonPositive[T int | int64](v T) bool { return v <= 0 }

func formatInt[T int | int64](v T) string { return strconv.FormatInt(int64(v), 10) }

func joinStrings(v []string) string { return strings.Join(v, ", ") }

func joinLinks(v []model.SocialLink) string {
	urls := make([]string, len(v))
	for i, l := range v {
		urls[i] = l.URL
	}
	return strings.Join(urls, ", ")
}
