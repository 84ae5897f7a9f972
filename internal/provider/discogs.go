package provider

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/pkg/discogs"
)

// Discogs supplies release metadata: label, publisher, copyright and styles.
type Discogs struct {
	client discogs.Client
}

// NewDiscogs adapts a Discogs client.
func NewDiscogs(c discogs.Client) *Discogs {
	return &Discogs{client: c}
}

// Name implements ArtistSearcher.
func (d *Discogs) Name() string { return "discogs" }

// SearchByArtistName takes the best release match for name and reads its
// credits. The artist's own links come from the credited artist page.
func (d *Discogs) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	results, err := d.client.SearchReleases(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	hit := results[0]

	rel, err := d.client.GetRelease(ctx, hit.ID)
	if err != nil {
		return nil, false, err
	}
	if rel == nil {
		return recordFromSearch(hit), true, nil
	}

	out := &model.ProviderRecord{
		ExternalID:   strconv.FormatInt(rel.ID, 10),
		ReleaseTitle: rel.Title,
		Country:      rel.Country,
		Publisher:    rel.Publisher(),
		Copyright:    rel.Copyright(),
		Genres:       append(append([]string{}, rel.Genres...), rel.Styles...),
		URL:          rel.URI,
	}
	if len(rel.Labels) > 0 {
		out.Label = rel.Labels[0].Name
	}
	if out.ReleaseDate = ParseReleaseDate(rel.Released); out.ReleaseDate == nil && rel.Year > 0 {
		out.ReleaseDate = ParseReleaseDate(strconv.Itoa(rel.Year))
	}

	urls := []string{}
	if len(rel.Artists) > 0 {
		out.ArtistName = cleanArtistName(rel.Artists[0].Name)
		artist, err := d.client.GetArtist(ctx, rel.Artists[0].ID)
		switch {
		case err != nil:
			zap.L().Warn("discogs: artist lookup failed", zap.Int64("artist", rel.Artists[0].ID), zap.Error(err))
		case artist != nil:
			if artist.URI != "" {
				urls = append(urls, artist.URI)
			}
			urls = append(urls, artist.URLs...)
		}
	}
	out.SocialLinks, out.Platforms = linksFromURLs(d.Name(), urls)
	return out, true, nil
}

// recordFromSearch builds a thinner record when the release page is gone.
func recordFromSearch(hit discogs.SearchResult) *model.ProviderRecord {
	out := &model.ProviderRecord{
		ExternalID:  strconv.FormatInt(hit.ID, 10),
		Country:     hit.Country,
		Genres:      append(append([]string{}, hit.Genre...), hit.Style...),
		ReleaseDate: ParseReleaseDate(hit.Year),
	}
	if len(hit.Label) > 0 {
		out.Label = hit.Label[0]
	}
	return out
}
