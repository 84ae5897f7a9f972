package provider

import (
	"context"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/pkg/spotify"
)

// Spotify supplies audience size: followers, popularity and genres.
type Spotify struct {
	client spotify.Client
}

// NewSpotify adapts a Spotify client.
func NewSpotify(c spotify.Client) *Spotify {
	return &Spotify{client: c}
}

// Name implements ArtistSearcher.
func (s *Spotify) Name() string { return "spotify" }

// SearchByArtistName implements ArtistSearcher.
func (s *Spotify) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	a, err := s.client.SearchArtist(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	out := &model.ProviderRecord{
		ExternalID: a.ID,
		ArtistName: a.Name,
		Genres:     a.Genres,
		Followers:  a.Followers.Total,
		Popularity: a.Popularity,
		Platforms:  []string{model.PlatformSpotify},
		URL:        a.URL(),
	}
	if u := a.URL(); u != "" {
		out.SocialLinks = []model.SocialLink{{Platform: model.PlatformSpotify, URL: u, Source: s.Name()}}
	}
	return out, true, nil
}
