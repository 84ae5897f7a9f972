package provider

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/trackscout/internal/model"
)

// hostPlatforms maps a URL host suffix to a platform or social name.
var hostPlatforms = []struct {
	suffix   string
	platform string
}{
	{"open.spotify.com", model.PlatformSpotify},
	{"spotify.com", model.PlatformSpotify},
	{"music.apple.com", model.PlatformAppleMusic},
	{"itunes.apple.com", model.PlatformAppleMusic},
	{"music.youtube.com", model.PlatformYouTube},
	{"youtube.com", model.PlatformYouTube},
	{"youtu.be", model.PlatformYouTube},
	{"music.amazon.com", model.PlatformAmazonMusic},
	{"music.amazon.co.uk", model.PlatformAmazonMusic},
	{"deezer.com", model.PlatformDeezer},
	{"tidal.com", model.PlatformTidal},
	{"soundcloud.com", model.PlatformSoundCloud},
	{"bandcamp.com", model.PlatformBandcamp},
	{"instagram.com", model.SocialInstagram},
	{"twitter.com", model.SocialTwitter},
	{"x.com", model.SocialTwitter},
	{"facebook.com", model.SocialFacebook},
	{"tiktok.com", model.SocialTikTok},
	{"last.fm", model.SocialLastFM},
	{"discogs.com", model.SocialDiscogs},
	{"musicbrainz.org", model.SocialOther},
	{"wikidata.org", model.SocialOther},
	{"wikipedia.org", model.SocialOther},
	{"allmusic.com", model.SocialOther},
}

// ClassifyLink returns the platform a URL belongs to. Unknown hosts are the
// artist's own website.
func ClassifyLink(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, hp := range hostPlatforms {
		if host == hp.suffix || strings.HasSuffix(host, "."+hp.suffix) {
			return hp.platform
		}
	}
	return model.PlatformWebsite
}

// IsStreamingPlatform reports whether p counts toward platform availability.
func IsStreamingPlatform(p string) bool {
	for _, s := range model.StreamingPlatforms {
		if s == p {
			return true
		}
	}
	return false
}

// linksFromURLs classifies urls into social links and streaming platforms.
func linksFromURLs(source string, urls []string) ([]model.SocialLink, []string) {
	var (
		links     []model.SocialLink
		platforms []string
		seen      = make(map[string]bool)
	)
	for _, raw := range urls {
		p := ClassifyLink(raw)
		if p == "" || p == model.SocialOther {
			continue
		}
		links = append(links, model.SocialLink{Platform: p, URL: strings.TrimSpace(raw), Source: source})
		if IsStreamingPlatform(p) && !seen[p] {
			seen[p] = true
			platforms = append(platforms, p)
		}
	}
	return links, platforms
}

// ParseReleaseDate accepts full, year-month and year-only dates.
func ParseReleaseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var discogsSuffix = regexp.MustCompile(`\s+\(\d+\)$`)

// cleanArtistName drops the numeric disambiguation suffix Discogs appends,
// as in "Lena Vox (2)".
func cleanArtistName(name string) string {
	return strings.TrimSpace(discogsSuffix.ReplaceAllString(name, ""))
}
