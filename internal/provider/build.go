package provider

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/budget"
	"github.com/sells-group/trackscout/internal/config"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
	"github.com/sells-group/trackscout/pkg/discogs"
	"github.com/sells-group/trackscout/pkg/lastfm"
	"github.com/sells-group/trackscout/pkg/musicbrainz"
	"github.com/sells-group/trackscout/pkg/spotify"
	"github.com/sells-group/trackscout/pkg/youtube"
)

// NewGateFromConfig builds the call gate from pipeline settings.
func NewGateFromConfig(cfg config.PipelineConfig, b *budget.Manager) *Gate {
	retryCfg, cbCfg := resilience.FromPipelineConfig(cfg)
	return NewGate(b,
		WithCallTimeout(time.Duration(cfg.CallTimeoutSecs)*time.Second),
		WithRetry(retryCfg),
		WithBreakers(resilience.NewServiceBreakers(cbCfg)),
		WithDeferralThreshold(time.Duration(cfg.DeferralThresholdSecs)*time.Second),
	)
}

// NewRegistryFromConfig constructs the gated client for every enabled
// provider. Each client's HTTP traffic is metered by b.
func NewRegistryFromConfig(cfg *config.Config, b *budget.Manager, g *Gate) *Registry {
	reg := NewRegistry()
	timeout := time.Duration(cfg.Pipeline.CallTimeoutSecs) * time.Second
	p := cfg.Providers

	if p.MusicBrainz.Enabled {
		c := musicbrainz.NewClient(p.MusicBrainz.UserAgent,
			musicbrainz.WithBaseURL(p.MusicBrainz.BaseURL),
			musicbrainz.WithHTTPClient(b.HTTPClient("musicbrainz", timeout)),
		)
		reg.SetIdentity(g.Identity(NewMusicBrainz(c)))
	}
	if p.Discogs.Enabled {
		c := discogs.NewClient(p.Discogs.Key,
			discogs.WithBaseURL(p.Discogs.BaseURL),
			discogs.WithHTTPClient(b.HTTPClient("discogs", timeout)),
			discogs.WithUserAgent(p.Discogs.UserAgent),
		)
		reg.SetSearcher(model.RoleMetadata, g.Searcher(NewDiscogs(c)))
	}
	if p.Spotify.Enabled {
		c := spotify.NewClient(p.Spotify.ClientID, p.Spotify.ClientSecret,
			spotify.WithBaseURL(p.Spotify.BaseURL),
			spotify.WithHTTPClient(b.HTTPClient("spotify", timeout)),
		)
		reg.SetSearcher(model.RolePopularity, g.Searcher(NewSpotify(c)))
	}
	if p.LastFM.Enabled {
		c := lastfm.NewClient(p.LastFM.Key,
			lastfm.WithBaseURL(p.LastFM.BaseURL),
			lastfm.WithHTTPClient(b.HTTPClient("lastfm", timeout)),
		)
		reg.SetSearcher(model.RoleSupplementary, g.Searcher(NewLastFM(c)))
	}
	if p.YouTube.Enabled {
		c := youtube.NewClient(p.YouTube.Key,
			youtube.WithBaseURL(p.YouTube.BaseURL),
			youtube.WithHTTPClient(b.HTTPClient("youtube", timeout)),
		)
		reg.SetChannel(g.Channel(NewYouTube(c)))
	}

	for _, a := range reg.List() {
		zap.L().Debug("provider registered", zap.String("role", string(a.Role)), zap.String("provider", a.Provider))
	}
	return reg
}
