package provider

import (
	"context"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/pkg/lastfm"
)

// LastFM supplies listener engagement and community tags.
type LastFM struct {
	client lastfm.Client
}

// NewLastFM adapts a Last.fm client.
func NewLastFM(c lastfm.Client) *LastFM {
	return &LastFM{client: c}
}

// Name implements ArtistSearcher.
func (l *LastFM) Name() string { return "lastfm" }

// SearchByArtistName implements ArtistSearcher.
func (l *LastFM) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	a, err := l.client.ArtistInfo(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	out := &model.ProviderRecord{
		ExternalID: a.MBID,
		ArtistName: a.Name,
		Genres:     a.Tags,
		Listeners:  a.Listeners,
		PlayCount:  a.PlayCount,
		URL:        a.URL,
	}
	if a.URL != "" {
		out.SocialLinks = []model.SocialLink{{Platform: model.SocialLastFM, URL: a.URL, Source: l.Name()}}
	}
	return out, true, nil
}
