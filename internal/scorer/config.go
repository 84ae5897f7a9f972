// Package scorer turns a merged track profile into a weighted, tiered
// priority score with a per-rule factor breakdown.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/config"
)

// DefaultConfig returns the scoring constants. Weights sum to 1.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		IndependenceWeight: 0.4,
		OpportunityWeight:  0.4,
		GeographicWeight:   0.2,

		TierA: 70,
		TierB: 50,
		TierC: 30,

		MajorPoints:        10,
		SelfReleasedPoints: 100,
		DistributorPoints:  85,
		IndieLabelPoints:   65,

		MajorKeywords: []string{
			"universal", "umg", "sony", "warner", "emi", "atlantic", "columbia",
			"interscope", "capitol", "rca", "def jam", "republic records",
			"island records", "epic records", "parlophone", "elektra", "virgin",
		},
		SelfReleasedKeywords: []string{
			"self-released", "self released", "selfreleased", "not on label",
			"no label", "independent artist", "[no label]",
		},
		DistributorKeywords: []string{
			"distrokid", "tunecore", "cd baby", "cdbaby", "amuse", "ditto",
			"unitedmasters", "onerpm", "routenote", "symphonic", "awal", "stem",
			"repost network", "believe",
		},

		// Opportunity.
		MajorPlatforms:          []string{"spotify", "apple_music", "youtube", "amazon_music", "deezer", "tidal"},
		PlatformGapFull:         25,
		PlatformGapFullMissing:  3,
		NarrowDistribution:      10,
		NarrowDistributionMax:   2,
		NoPublisher:             15,
		GrowthSweetSpot:         15,
		GrowthMinFollowers:      10_000,
		GrowthMaxFollowers:      100_000,
		RecentRelease:           10,
		RecentReleaseDays:       365,
		ProfessionalGap:         10,
		ChannelAbsent:           15,
		ChannelUnderperforming:  8,
		ChannelUnderperformRate: 0.10,
		ChannelInactive:         5,
		ChannelInactiveDays:     180,
		ChannelGrowth:           5,
		ChannelGrowthMaxSubs:    10_000,
		ChannelGrowthMinAvgView: 1_000,

		// Geographic, in match order.
		Regions: []config.RegionConfig{
			{Name: "north_america", Countries: []string{"US", "CA"}, Points: 100},
			{Name: "uk_ireland", Countries: []string{"GB", "IE"}, Points: 85},
			{Name: "western_europe", Countries: []string{
				"DE", "FR", "NL", "BE", "LU", "AT", "CH", "SE", "NO", "DK", "FI",
				"IS", "ES", "PT", "IT",
			}, Points: 70},
			{Name: "other_english", Countries: []string{
				"AU", "NZ", "ZA", "JM", "TT", "NG", "GH", "KE", "SG", "PH", "IN",
			}, Points: 55},
		},
		DefaultRegion: config.RegionConfig{Name: "other", Points: 40},
	}
}

// WithDefaults fills every zero field of c from DefaultConfig. Weights are
// taken as a set: they are replaced only when all three are zero.
func WithDefaults(c config.ScoringConfig) config.ScoringConfig {
	d := DefaultConfig()

	if c.IndependenceWeight == 0 && c.OpportunityWeight == 0 && c.GeographicWeight == 0 {
		c.IndependenceWeight, c.OpportunityWeight, c.GeographicWeight =
			d.IndependenceWeight, d.OpportunityWeight, d.GeographicWeight
	}

	floats := []struct {
		dst *float64
		def float64
	}{
		{&c.TierA, d.TierA}, {&c.TierB, d.TierB}, {&c.TierC, d.TierC},
		{&c.MajorPoints, d.MajorPoints},
		{&c.SelfReleasedPoints, d.SelfReleasedPoints},
		{&c.DistributorPoints, d.DistributorPoints},
		{&c.IndieLabelPoints, d.IndieLabelPoints},
		{&c.PlatformGapFull, d.PlatformGapFull},
		{&c.NarrowDistribution, d.NarrowDistribution},
		{&c.NoPublisher, d.NoPublisher},
		{&c.GrowthSweetSpot, d.GrowthSweetSpot},
		{&c.RecentRelease, d.RecentRelease},
		{&c.ProfessionalGap, d.ProfessionalGap},
		{&c.ChannelAbsent, d.ChannelAbsent},
		{&c.ChannelUnderperforming, d.ChannelUnderperforming},
		{&c.ChannelUnderperformRate, d.ChannelUnderperformRate},
		{&c.ChannelInactive, d.ChannelInactive},
		{&c.ChannelGrowth, d.ChannelGrowth},
		{&c.ChannelGrowthMinAvgView, d.ChannelGrowthMinAvgView},
	}
	for _, f := range floats {
		if *f.dst == 0 {
			*f.dst = f.def
		}
	}

	ints := []struct {
		dst *int
		def int
	}{
		{&c.PlatformGapFullMissing, d.PlatformGapFullMissing},
		{&c.NarrowDistributionMax, d.NarrowDistributionMax},
		{&c.RecentReleaseDays, d.RecentReleaseDays},
		{&c.ChannelInactiveDays, d.ChannelInactiveDays},
	}
	for _, f := range ints {
		if *f.dst == 0 {
			*f.dst = f.def
		}
	}

	if c.GrowthMinFollowers == 0 && c.GrowthMaxFollowers == 0 {
		c.GrowthMinFollowers, c.GrowthMaxFollowers = d.GrowthMinFollowers, d.GrowthMaxFollowers
	}
	if c.ChannelGrowthMaxSubs == 0 {
		c.ChannelGrowthMaxSubs = d.ChannelGrowthMaxSubs
	}

	if len(c.MajorKeywords) == 0 {
		c.MajorKeywords = d.MajorKeywords
	}
	if len(c.SelfReleasedKeywords) == 0 {
		c.SelfReleasedKeywords = d.SelfReleasedKeywords
	}
	if len(c.DistributorKeywords) == 0 {
		c.DistributorKeywords = d.DistributorKeywords
	}
	if len(c.MajorPlatforms) == 0 {
		c.MajorPlatforms = d.MajorPlatforms
	}
	if len(c.Regions) == 0 {
		c.Regions = d.Regions
	}
	if c.DefaultRegion.Name == "" && c.DefaultRegion.Points == 0 {
		c.DefaultRegion = d.DefaultRegion
	}
	return c
}

// WeightSum returns the sum of the three sub-score weights.
func WeightSum(c config.ScoringConfig) float64 {
	return c.IndependenceWeight + c.OpportunityWeight + c.GeographicWeight
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"independence_weight", c.IndependenceWeight},
		{"opportunity_weight", c.OpportunityWeight},
		{"geographic_weight", c.GeographicWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}
	if sum := WeightSum(c); math.Abs(sum-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.2f", sum))
	}

	// Tier thresholds.
	if !(c.TierA > c.TierB && c.TierB > c.TierC) {
		errs = append(errs, "tier thresholds must descend: tier_a > tier_b > tier_c")
	}
	if c.TierC < 0 || c.TierA > 100 {
		errs = append(errs, "tier thresholds must be between 0 and 100")
	}

	if c.GrowthMaxFollowers > 0 && c.GrowthMaxFollowers < c.GrowthMinFollowers {
		errs = append(errs, "growth_max_followers must be >= growth_min_followers")
	}
	for _, r := range c.Regions {
		if r.Name == "" {
			errs = append(errs, "regions must be named")
			break
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
