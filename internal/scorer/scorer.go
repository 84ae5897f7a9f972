package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/trackscout/internal/config"
	"github.com/sells-group/trackscout/internal/model"
)

const day = 24 * time.Hour

// Score computes the breakdown for p. It reads nothing but p and cfg, so the
// same inputs always produce the same breakdown. Zero fields of cfg take
// their DefaultConfig values.
func Score(p *model.MergedProfile, cfg config.ScoringConfig) model.ScoreBreakdown {
	cfg = WithDefaults(cfg)
	if p == nil {
		p = &model.MergedProfile{}
	}

	var b model.ScoreBreakdown
	b.IndependenceClass, b.Independence, b.Factors.Independence = independence(p, cfg)
	b.Opportunity, b.Factors.Opportunity = opportunity(p, cfg)
	b.Region, b.Geographic, b.Factors.Geographic = geographic(p, cfg)

	b.Total = round1(cfg.IndependenceWeight*b.Independence +
		cfg.OpportunityWeight*b.Opportunity +
		cfg.GeographicWeight*b.Geographic)
	b.Tier = TierFor(b.Total, cfg)
	b.Confidence = Confidence(p)
	return b
}

// TierFor maps a total to its tier. Thresholds are inclusive.
func TierFor(total float64, cfg config.ScoringConfig) model.Tier {
	switch {
	case total >= cfg.TierA:
		return model.TierA
	case total >= cfg.TierB:
		return model.TierB
	case total >= cfg.TierC:
		return model.TierC
	default:
		return model.TierD
	}
}

// Classify returns the independence class of the given label texts. Major
// keywords win over everything, then self-released, then distributors. A
// keyword matches case-insensitively as a whole word or phrase, so "emi"
// does not match "Remix Records".
func Classify(texts []string, cfg config.ScoringConfig) (model.IndependenceClass, string) {
	var nonEmpty []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			nonEmpty = append(nonEmpty, strings.ToLower(t))
		}
	}
	if len(nonEmpty) == 0 {
		return model.IndependenceSelfReleased, ""
	}

	groups := []struct {
		class    model.IndependenceClass
		keywords []string
	}{
		{model.IndependenceMajor, cfg.MajorKeywords},
		{model.IndependenceSelfReleased, cfg.SelfReleasedKeywords},
		{model.IndependenceDistributor, cfg.DistributorKeywords},
	}
	for _, g := range groups {
		for _, kw := range g.keywords {
			kw = strings.ToLower(kw)
			for _, t := range nonEmpty {
				if containsWord(t, kw) {
					return g.class, kw
				}
			}
		}
	}
	return model.IndependenceIndieLabel, ""
}

// containsWord reports whether kw occurs in s with no letter or digit
// immediately on either side.
func containsWord(s, kw string) bool {
	if kw == "" {
		return false
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(kw)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func independence(p *model.MergedProfile, cfg config.ScoringConfig) (model.IndependenceClass, float64, []string) {
	texts := p.LabelTexts
	if len(texts) == 0 {
		texts = []string{p.Track.Label, p.Track.Publisher}
	}
	class, kw := Classify(texts, cfg)

	switch class {
	case model.IndependenceMajor:
		return class, cfg.MajorPoints, []string{fmt.Sprintf("Major label affiliation (matched %q)", kw)}
	case model.IndependenceDistributor:
		return class, cfg.DistributorPoints, []string{fmt.Sprintf("Distributed through a boutique distributor (matched %q)", kw)}
	case model.IndependenceIndieLabel:
		return class, cfg.IndieLabelPoints, []string{fmt.Sprintf("Independent label: %s", firstNonEmpty(texts))}
	}
	if kw == "" {
		return class, cfg.SelfReleasedPoints, []string{"No label information; treated as self-released"}
	}
	return class, cfg.SelfReleasedPoints, []string{fmt.Sprintf("Self-released (matched %q)", kw)}
}

func opportunity(p *model.MergedProfile, cfg config.ScoringConfig) (float64, []string) {
	var (
		score   float64
		factors []string
	)
	add := func(points float64, factor string) {
		score += points
		factors = append(factors, fmt.Sprintf("%s (+%s)", factor, formatPoints(points)))
	}

	var missing []string
	for _, plat := range cfg.MajorPlatforms {
		if !p.HasPlatform(plat) {
			missing = append(missing, plat)
		}
	}
	switch {
	case len(missing) >= cfg.PlatformGapFullMissing:
		add(cfg.PlatformGapFull, fmt.Sprintf("Missing from %d major platforms: %s", len(missing), strings.Join(missing, ", ")))
	case len(missing) > 0:
		add(cfg.PlatformGapFull/2, fmt.Sprintf("Missing from %d major platform(s): %s", len(missing), strings.Join(missing, ", ")))
	}

	if n := len(p.Track.Platforms); n <= cfg.NarrowDistributionMax {
		add(cfg.NarrowDistribution, fmt.Sprintf("Narrow distribution (%d platforms known)", n))
	}

	if strings.TrimSpace(p.Track.Publisher) == "" {
		add(cfg.NoPublisher, "No publishing administration found")
	}

	if f := p.Artist.Followers; f >= cfg.GrowthMinFollowers && f <= cfg.GrowthMaxFollowers {
		add(cfg.GrowthSweetSpot, fmt.Sprintf("Growth sweet spot (%d followers)", f))
	}

	ref := p.ScoredAt
	if rd := p.Track.ReleaseDate; rd != nil && !ref.IsZero() {
		if ref.Sub(*rd) <= time.Duration(cfg.RecentReleaseDays)*day {
			add(cfg.RecentRelease, fmt.Sprintf("Recent release (%s)", rd.Format(time.DateOnly)))
		}
	}

	if !p.HasContact(model.PlatformWebsite) {
		add(cfg.ProfessionalGap, "No official website found")
	}

	channelScore, channelFactors := channel(p, cfg)
	score += channelScore
	factors = append(factors, channelFactors...)

	return round1(math.Min(score, 100)), factors
}

// channel assesses the secondary video channel. The total never exceeds the
// absent-channel bonus.
func channel(p *model.MergedProfile, cfg config.ScoringConfig) (float64, []string) {
	ch := p.Channel
	if ch == nil {
		return cfg.ChannelAbsent, []string{
			fmt.Sprintf("No secondary channel presence (no YouTube channel found) (+%s)", formatPoints(cfg.ChannelAbsent)),
		}
	}

	var (
		score   float64
		factors []string
	)
	if f := p.Artist.Followers; f > 0 && float64(ch.Subscribers) < cfg.ChannelUnderperformRate*float64(f) {
		score += cfg.ChannelUnderperforming
		factors = append(factors, fmt.Sprintf("YouTube channel underperforming (%d subscribers vs %d followers) (+%s)",
			ch.Subscribers, f, formatPoints(cfg.ChannelUnderperforming)))
	}

	ref := p.ScoredAt
	switch {
	case ch.LastUploadAt == nil:
		score += cfg.ChannelInactive
		factors = append(factors, fmt.Sprintf("YouTube channel has no recent uploads (+%s)", formatPoints(cfg.ChannelInactive)))
	case !ref.IsZero() && ref.Sub(*ch.LastUploadAt) > time.Duration(cfg.ChannelInactiveDays)*day:
		score += cfg.ChannelInactive
		factors = append(factors, fmt.Sprintf("YouTube channel inactive since %s (+%s)",
			ch.LastUploadAt.Format(time.DateOnly), formatPoints(cfg.ChannelInactive)))
	}

	if ch.Subscribers < cfg.ChannelGrowthMaxSubs && ch.AverageViews() >= cfg.ChannelGrowthMinAvgView {
		score += cfg.ChannelGrowth
		factors = append(factors, fmt.Sprintf("YouTube growth potential (%.0f average views, %d subscribers) (+%s)",
			ch.AverageViews(), ch.Subscribers, formatPoints(cfg.ChannelGrowth)))
	}

	return math.Min(score, cfg.ChannelAbsent), factors
}

func geographic(p *model.MergedProfile, cfg config.ScoringConfig) (string, float64, []string) {
	country := strings.ToUpper(strings.TrimSpace(p.Artist.Country))
	if country != "" {
		for _, r := range cfg.Regions {
			for _, c := range r.Countries {
				if strings.EqualFold(c, country) {
					return r.Name, r.Points, []string{fmt.Sprintf("Country %s in region %s", country, r.Name)}
				}
			}
		}
		return cfg.DefaultRegion.Name, cfg.DefaultRegion.Points,
			[]string{fmt.Sprintf("Country %s outside target regions", country)}
	}
	return cfg.DefaultRegion.Name, cfg.DefaultRegion.Points, []string{"Country unknown"}
}

// Confidence is the share of data-presence checks that pass, as a rounded
// percentage.
func Confidence(p *model.MergedProfile) int {
	checks := []bool{
		p.HasRole(model.RoleIdentity),
		p.HasRole(model.RolePopularity),
		strings.TrimSpace(p.Track.Label) != "",
		p.Track.ReleaseDate != nil,
		p.Artist.Followers > 0 || p.Artist.Popularity > 0,
		strings.TrimSpace(p.Artist.Country) != "",
		p.HasRole(model.RoleSupplementary),
		p.Channel != nil,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return int(math.Round(100 * float64(passed) / float64(len(checks))))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatPoints(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", v), "0"), ".")
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
