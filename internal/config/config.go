package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig is the immutable budget and endpoint configuration for one provider.
type ProviderConfig struct {
	Name         string `yaml:"name" mapstructure:"name"`
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	PerMinute    int    `yaml:"per_minute" mapstructure:"per_minute"`
	PerDay       int    `yaml:"per_day" mapstructure:"per_day"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Key          string `yaml:"key" mapstructure:"key"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	MusicBrainz ProviderConfig `yaml:"musicbrainz" mapstructure:"musicbrainz"`
	Discogs     ProviderConfig `yaml:"discogs" mapstructure:"discogs"`
	Spotify     ProviderConfig `yaml:"spotify" mapstructure:"spotify"`
	LastFM      ProviderConfig `yaml:"lastfm" mapstructure:"lastfm"`
	YouTube     ProviderConfig `yaml:"youtube" mapstructure:"youtube"`
}

// All returns every provider config with its Name filled in, sorted by name.
func (p ProvidersConfig) All() []ProviderConfig {
	all := []ProviderConfig{
		withName(p.MusicBrainz, "musicbrainz"),
		withName(p.Discogs, "discogs"),
		withName(p.Spotify, "spotify"),
		withName(p.LastFM, "lastfm"),
		withName(p.YouTube, "youtube"),
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func withName(pc ProviderConfig, name string) ProviderConfig {
	if pc.Name == "" {
		pc.Name = name
	}
	return pc
}

// PipelineConfig configures the aggregation pipeline.
type PipelineConfig struct {
	CallTimeoutSecs       int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	DeferralThresholdSecs int    `yaml:"deferral_threshold_secs" mapstructure:"deferral_threshold_secs"`
	MaxBatchSize          int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	PriorityTablePath     string `yaml:"priority_table_path" mapstructure:"priority_table_path"`
	RetryAttempts         int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs        int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	CircuitThreshold      int    `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs      int    `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	DLQMaxRetries         int    `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	GroupSize           int `yaml:"group_size" mapstructure:"group_size"`
	MaxConcurrentGroups int `yaml:"max_concurrent_groups" mapstructure:"max_concurrent_groups"`
}

// ScoringConfig holds the business-tuned scoring constants. Defaults live in
// scorer.DefaultConfig; zero values here are filled from it.
type ScoringConfig struct {
	IndependenceWeight float64 `yaml:"independence_weight" mapstructure:"independence_weight"`
	OpportunityWeight  float64 `yaml:"opportunity_weight" mapstructure:"opportunity_weight"`
	GeographicWeight   float64 `yaml:"geographic_weight" mapstructure:"geographic_weight"`

	TierA float64 `yaml:"tier_a" mapstructure:"tier_a"`
	TierB float64 `yaml:"tier_b" mapstructure:"tier_b"`
	TierC float64 `yaml:"tier_c" mapstructure:"tier_c"`

	MajorPoints        float64 `yaml:"major_points" mapstructure:"major_points"`
	SelfReleasedPoints float64 `yaml:"self_released_points" mapstructure:"self_released_points"`
	DistributorPoints  float64 `yaml:"distributor_points" mapstructure:"distributor_points"`
	IndieLabelPoints   float64 `yaml:"indie_label_points" mapstructure:"indie_label_points"`

	MajorKeywords        []string `yaml:"major_keywords" mapstructure:"major_keywords"`
	SelfReleasedKeywords []string `yaml:"self_released_keywords" mapstructure:"self_released_keywords"`
	DistributorKeywords  []string `yaml:"distributor_keywords" mapstructure:"distributor_keywords"`

	MajorPlatforms          []string `yaml:"major_platforms" mapstructure:"major_platforms"`
	PlatformGapFull         float64  `yaml:"platform_gap_full" mapstructure:"platform_gap_full"`
	PlatformGapFullMissing  int      `yaml:"platform_gap_full_missing" mapstructure:"platform_gap_full_missing"`
	NarrowDistribution      float64  `yaml:"narrow_distribution" mapstructure:"narrow_distribution"`
	NarrowDistributionMax   int      `yaml:"narrow_distribution_max" mapstructure:"narrow_distribution_max"`
	NoPublisher             float64  `yaml:"no_publisher" mapstructure:"no_publisher"`
	GrowthSweetSpot         float64  `yaml:"growth_sweet_spot" mapstructure:"growth_sweet_spot"`
	GrowthMinFollowers      int64    `yaml:"growth_min_followers" mapstructure:"growth_min_followers"`
	GrowthMaxFollowers      int64    `yaml:"growth_max_followers" mapstructure:"growth_max_followers"`
	RecentRelease           float64  `yaml:"recent_release" mapstructure:"recent_release"`
	RecentReleaseDays       int      `yaml:"recent_release_days" mapstructure:"recent_release_days"`
	ProfessionalGap         float64  `yaml:"professional_gap" mapstructure:"professional_gap"`
	ChannelAbsent           float64  `yaml:"channel_absent" mapstructure:"channel_absent"`
	ChannelUnderperforming  float64  `yaml:"channel_underperforming" mapstructure:"channel_underperforming"`
	ChannelUnderperformRate float64  `yaml:"channel_underperform_ratio" mapstructure:"channel_underperform_ratio"`
	ChannelInactive         float64  `yaml:"channel_inactive" mapstructure:"channel_inactive"`
	ChannelInactiveDays     int      `yaml:"channel_inactive_days" mapstructure:"channel_inactive_days"`
	ChannelGrowth           float64  `yaml:"channel_growth" mapstructure:"channel_growth"`
	ChannelGrowthMaxSubs    int64    `yaml:"channel_growth_max_subscribers" mapstructure:"channel_growth_max_subscribers"`
	ChannelGrowthMinAvgView float64  `yaml:"channel_growth_min_avg_views" mapstructure:"channel_growth_min_avg_views"`

	Regions       []RegionConfig `yaml:"regions" mapstructure:"regions"`
	DefaultRegion RegionConfig   `yaml:"default_region" mapstructure:"default_region"`
}

// RegionConfig maps a named region to its countries and point value.
type RegionConfig struct {
	Name      string   `yaml:"name" mapstructure:"name"`
	Countries []string `yaml:"countries" mapstructure:"countries"`
	Points    float64  `yaml:"points" mapstructure:"points"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	// BudgetUsageThreshold is the fraction of a daily limit that triggers an alert.
	BudgetUsageThreshold float64 `yaml:"budget_usage_threshold" mapstructure:"budget_usage_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACKSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "trackscout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.group_size", 25)
	v.SetDefault("batch.max_concurrent_groups", 1)
	v.SetDefault("pipeline.call_timeout_secs", 15)
	v.SetDefault("pipeline.deferral_threshold_secs", 300)
	v.SetDefault("pipeline.max_batch_size", 1000)
	v.SetDefault("pipeline.retry_attempts", 2)
	v.SetDefault("pipeline.retry_backoff_ms", 500)
	v.SetDefault("pipeline.circuit_threshold", 5)
	v.SetDefault("pipeline.circuit_reset_secs", 30)
	v.SetDefault("pipeline.dlq_max_retries", 3)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 100)
	v.SetDefault("monitoring.budget_usage_threshold", 0.9)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("scoring.independence_weight", 0.4)
	v.SetDefault("scoring.opportunity_weight", 0.4)
	v.SetDefault("scoring.geographic_weight", 0.2)
	v.SetDefault("scoring.tier_a", 70)
	v.SetDefault("scoring.tier_b", 50)
	v.SetDefault("scoring.tier_c", 30)

	v.SetDefault("providers.musicbrainz.enabled", true)
	v.SetDefault("providers.musicbrainz.per_minute", 50)
	v.SetDefault("providers.musicbrainz.base_url", "https://musicbrainz.org/ws/2")
	v.SetDefault("providers.musicbrainz.user_agent", "trackscout/1.0 (ops@sellsadvisors.com)")
	v.SetDefault("providers.discogs.enabled", true)
	v.SetDefault("providers.discogs.per_minute", 60)
	v.SetDefault("providers.discogs.base_url", "https://api.discogs.com")
	v.SetDefault("providers.discogs.user_agent", "trackscout/1.0")
	v.SetDefault("providers.spotify.enabled", true)
	v.SetDefault("providers.spotify.per_minute", 100)
	v.SetDefault("providers.spotify.base_url", "https://api.spotify.com/v1")
	v.SetDefault("providers.lastfm.enabled", true)
	v.SetDefault("providers.lastfm.per_minute", 300)
	v.SetDefault("providers.lastfm.base_url", "https://ws.audioscrobbler.com/2.0")
	v.SetDefault("providers.youtube.enabled", true)
	v.SetDefault("providers.youtube.per_minute", 60)
	v.SetDefault("providers.youtube.per_day", 10000)
	v.SetDefault("providers.youtube.base_url", "https://www.googleapis.com/youtube/v3")

	// Credentials have empty defaults so env-only values reach Unmarshal.
	for _, name := range []string{"musicbrainz", "discogs", "spotify", "lastfm", "youtube"} {
		v.SetDefault("providers."+name+".key", "")
		v.SetDefault("providers."+name+".client_id", "")
		v.SetDefault("providers."+name+".client_secret", "")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. Modes:
// "enrichment" (run, batch), "serve" (HTTP server, implies enrichment) and
// "store" (dlq, metrics).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "enrichment", "serve", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "enrichment" || mode == "serve" {
		errs = append(errs, c.validateProviders()...)
		if c.Pipeline.CallTimeoutSecs <= 0 {
			errs = append(errs, "pipeline.call_timeout_secs must be > 0")
		}
		if c.Pipeline.DeferralThresholdSecs < 0 {
			errs = append(errs, "pipeline.deferral_threshold_secs must be >= 0")
		}
		if c.Pipeline.MaxBatchSize <= 0 {
			errs = append(errs, "pipeline.max_batch_size must be > 0")
		}
		if c.Batch.GroupSize <= 0 {
			errs = append(errs, "batch.group_size must be > 0")
		}
		if c.Batch.MaxConcurrentGroups < 1 || c.Batch.MaxConcurrentGroups > 50 {
			errs = append(errs, "batch.max_concurrent_groups must be between 1 and 50")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "serve" && c.Monitoring.Enabled {
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProviders() []string {
	var errs []string
	if !c.Providers.MusicBrainz.Enabled {
		errs = append(errs, "providers.musicbrainz must be enabled")
	}
	for _, pc := range c.Providers.All() {
		if pc.PerMinute < 0 || pc.PerDay < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s limits must be >= 0", pc.Name))
		}
		if pc.Enabled && pc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.base_url is required", pc.Name))
		}
	}
	sp := c.Providers.Spotify
	if sp.Enabled && (sp.ClientID == "" || sp.ClientSecret == "") {
		errs = append(errs, "providers.spotify.client_id and client_secret are required")
	}
	if c.Providers.LastFM.Enabled && c.Providers.LastFM.Key == "" {
		errs = append(errs, "providers.lastfm.key is required")
	}
	if c.Providers.YouTube.Enabled && c.Providers.YouTube.Key == "" {
		errs = append(errs, "providers.youtube.key is required")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
