package model

import "time"

// Role is the part a provider plays in a job. Merge priorities and the
// confidence checklist are expressed in roles, not provider names.
type Role string

const (
	RoleIdentity      Role = "identity"
	RoleMetadata      Role = "metadata"
	RolePopularity    Role = "popularity"
	RoleSupplementary Role = "supplementary"
	RoleChannel       Role = "channel"
)

// Platform names used in platform availability lists.
const (
	PlatformSpotify     = "spotify"
	PlatformAppleMusic  = "apple_music"
	PlatformYouTube     = "youtube"
	PlatformAmazonMusic = "amazon_music"
	PlatformDeezer      = "deezer"
	PlatformTidal       = "tidal"
	PlatformSoundCloud  = "soundcloud"
	PlatformBandcamp    = "bandcamp"
	PlatformWebsite     = "website"
)

// Social platforms that appear only as contact candidates.
const (
	SocialInstagram = "instagram"
	SocialTwitter   = "twitter"
	SocialFacebook  = "facebook"
	SocialTikTok    = "tiktok"
	SocialLastFM    = "lastfm"
	SocialDiscogs   = "discogs"
	SocialOther     = "other"
)

// StreamingPlatforms lists the platforms that count toward availability.
var StreamingPlatforms = []string{
	PlatformSpotify, PlatformAppleMusic, PlatformYouTube, PlatformAmazonMusic,
	PlatformDeezer, PlatformTidal, PlatformSoundCloud, PlatformBandcamp,
}

// SocialLink is a social or contact candidate discovered in a provider payload.
type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Source   string `json:"source,omitempty"`
}

// ProviderRecord is the normalized payload of one provider response. Zero
// values mean the provider did not supply the field.
type ProviderRecord struct {
	ExternalID   string       `json:"external_id,omitempty"`
	ArtistName   string       `json:"artist_name,omitempty"`
	TrackTitle   string       `json:"track_title,omitempty"`
	ReleaseTitle string       `json:"release_title,omitempty"`
	ReleaseDate  *time.Time   `json:"release_date,omitempty"`
	Country      string       `json:"country,omitempty"`
	Label        string       `json:"label,omitempty"`
	Publisher    string       `json:"publisher,omitempty"`
	Copyright    string       `json:"copyright,omitempty"`
	Genres       []string     `json:"genres,omitempty"`
	Platforms    []string     `json:"platforms,omitempty"`
	Followers    int64        `json:"followers,omitempty"`
	Popularity   int          `json:"popularity,omitempty"`
	Listeners    int64        `json:"listeners,omitempty"`
	PlayCount    int64        `json:"play_count,omitempty"`
	SocialLinks  []SocialLink `json:"social_links,omitempty"`
	URL          string       `json:"url,omitempty"`
}

// AnalyticsRecord describes the artist's secondary video channel.
type AnalyticsRecord struct {
	ChannelID    string     `json:"channel_id"`
	Title        string     `json:"title,omitempty"`
	URL          string     `json:"url,omitempty"`
	Subscribers  int64      `json:"subscribers"`
	Views        int64      `json:"views"`
	VideoCount   int64      `json:"video_count"`
	LastUploadAt *time.Time `json:"last_upload_at,omitempty"`
}

// AverageViews returns views per video, or 0 with no videos.
func (a AnalyticsRecord) AverageViews() float64 {
	if a.VideoCount <= 0 {
		return 0
	}
	return float64(a.Views) / float64(a.VideoCount)
}

// SourceRecord is the immutable result of one provider call within a job.
type SourceRecord struct {
	Provider  string           `json:"provider"`
	Role      Role             `json:"role"`
	Found     bool             `json:"found"`
	Record    ProviderRecord   `json:"record"`
	Analytics *AnalyticsRecord `json:"analytics,omitempty"`
	FetchedAt time.Time        `json:"fetched_at"`
}
