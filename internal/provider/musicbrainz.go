package provider

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/pkg/musicbrainz"
)

// MusicBrainz is the identity provider.
type MusicBrainz struct {
	client musicbrainz.Client
}

// NewMusicBrainz adapts a MusicBrainz client.
func NewMusicBrainz(c musicbrainz.Client) *MusicBrainz {
	return &MusicBrainz{client: c}
}

// Name implements IdentityLookup.
func (m *MusicBrainz) Name() string { return "musicbrainz" }

// LookupIdentifier resolves the recording, then enriches it from the primary
// artist and the earliest official release. Failures of those secondary
// lookups degrade the record rather than fail the identity.
func (m *MusicBrainz) LookupIdentifier(ctx context.Context, id model.Identifier) (*model.ProviderRecord, bool, error) {
	rec, err := m.client.LookupISRC(ctx, id.String())
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}

	out := &model.ProviderRecord{
		ExternalID: rec.ID,
		TrackTitle: rec.Title,
		URL:        "https://musicbrainz.org/recording/" + rec.ID,
	}
	if len(rec.Artists) > 0 {
		out.ArtistName = rec.Artists[0].Name
	}

	if ref, ok := earliestRelease(rec.Releases); ok {
		out.ReleaseTitle = ref.Title
		out.ReleaseDate = ParseReleaseDate(ref.Date)
		out.Country = ref.Country

		rel, err := m.client.LookupRelease(ctx, ref.ID)
		switch {
		case err != nil:
			zap.L().Warn("musicbrainz: release lookup failed", zap.String("release", ref.ID), zap.Error(err))
		case rel != nil && len(rel.Labels) > 0:
			out.Label = rel.Labels[0]
		}
	}

	if len(rec.Artists) > 0 && rec.Artists[0].ID != "" {
		artist, err := m.client.LookupArtist(ctx, rec.Artists[0].ID)
		switch {
		case err != nil:
			zap.L().Warn("musicbrainz: artist lookup failed", zap.String("artist", rec.Artists[0].ID), zap.Error(err))
		case artist != nil:
			if artist.Country != "" {
				out.Country = artist.Country
			}
			out.Genres = artist.Genres
			urls := make([]string, 0, len(artist.Relations))
			for _, r := range artist.Relations {
				urls = append(urls, r.URL)
			}
			out.SocialLinks, out.Platforms = linksFromURLs(m.Name(), urls)
		}
	}

	return out, true, nil
}

// earliestRelease prefers official releases, then the earliest dated one.
func earliestRelease(refs []musicbrainz.ReleaseRef) (musicbrainz.ReleaseRef, bool) {
	if len(refs) == 0 {
		return musicbrainz.ReleaseRef{}, false
	}
	sorted := make([]musicbrainz.ReleaseRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		oi, oj := sorted[i].Status == "Official", sorted[j].Status == "Official"
		if oi != oj {
			return oi
		}
		di, dj := sorted[i].Date, sorted[j].Date
		if (di == "") != (dj == "") {
			return di != ""
		}
		return di < dj
	})
	return sorted[0], true
}
