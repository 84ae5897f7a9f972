package model

import "time"

// ArtistProfile is the reconciled artist identity.
type ArtistProfile struct {
	Name       string   `json:"name"`
	Country    string   `json:"country,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Followers  int64    `json:"followers"`
	Popularity int      `json:"popularity"`
	Listeners  int64    `json:"listeners"`
	PlayCount  int64    `json:"play_count"`
}

// TrackProfile is the reconciled track identity.
type TrackProfile struct {
	Identifier   Identifier `json:"identifier"`
	Title        string     `json:"title,omitempty"`
	ReleaseTitle string     `json:"release_title,omitempty"`
	ReleaseDate  *time.Time `json:"release_date,omitempty"`
	Label        string     `json:"label,omitempty"`
	Publisher    string     `json:"publisher,omitempty"`
	Platforms    []string   `json:"platforms,omitempty"`
}

// MergedProfile is a job's single reconciled view across all sources.
type MergedProfile struct {
	Artist     ArtistProfile     `json:"artist"`
	Track      TrackProfile      `json:"track"`
	Channel    *AnalyticsRecord  `json:"channel,omitempty"`
	Provenance []FieldProvenance `json:"provenance"`
	Contacts   []SocialLink      `json:"contacts,omitempty"`
	// LabelTexts holds every label-like string seen across sources, in
	// source priority order, for independence classification.
	LabelTexts []string `json:"label_texts,omitempty"`
	// Responded lists the roles whose provider returned a record.
	Responded []Role `json:"responded"`
	// ScoredAt is the reference time for recency rules.
	ScoredAt time.Time `json:"scored_at"`
}

// HasRole reports whether a provider in role r returned a record.
func (p *MergedProfile) HasRole(r Role) bool {
	for _, got := range p.Responded {
		if got == r {
			return true
		}
	}
	return false
}

// HasPlatform reports whether platform appears in the availability list.
func (p *MergedProfile) HasPlatform(platform string) bool {
	for _, got := range p.Track.Platforms {
		if got == platform {
			return true
		}
	}
	return false
}

// HasContact reports whether a contact candidate exists for platform.
func (p *MergedProfile) HasContact(platform string) bool {
	for _, c := range p.Contacts {
		if c.Platform == platform {
			return true
		}
	}
	return false
}
