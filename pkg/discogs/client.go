// Package discogs provides a client for the Discogs database API.
package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/resilience"
)

// Client defines the Discogs database operations.
type Client interface {
	// SearchReleases returns releases credited to artist, best match first.
	SearchReleases(ctx context.Context, artist string) ([]SearchResult, error)
	// GetRelease returns a release, or nil if it does not exist.
	GetRelease(ctx context.Context, id int64) (*Release, error)
	// GetArtist returns an artist, or nil if it does not exist.
	GetArtist(ctx context.Context, id int64) (*Artist, error)
}

// SearchResult is one hit from /database/search.
type SearchResult struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Country string   `json:"country"`
	Year    string   `json:"year"`
	Label   []string `json:"label"`
	Genre   []string `json:"genre"`
	Style   []string `json:"style"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Company is a credited company on a release.
type Company struct {
	Name           string `json:"name"`
	EntityTypeName string `json:"entity_type_name"`
}

// LabelRef is a label credit on a release.
type LabelRef struct {
	Name  string `json:"name"`
	Catno string `json:"catno"`
}

// ArtistRef is an artist credit on a release.
type ArtistRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Release is a Discogs release.
type Release struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Country   string      `json:"country"`
	Released  string      `json:"released"`
	Year      int         `json:"year"`
	Artists   []ArtistRef `json:"artists"`
	Labels    []LabelRef  `json:"labels"`
	Companies []Company   `json:"companies"`
	Genres    []string    `json:"genres"`
	Styles    []string    `json:"styles"`
	URI       string      `json:"uri"`
}

// Artist is a Discogs artist.
type Artist struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Profile string   `json:"profile"`
	URLs    []string `json:"urls"`
	URI     string   `json:"uri"`
}

// Option configures the Discogs client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent overrides the User-Agent header Discogs requires. A blank
// value keeps the default.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

type httpClient struct {
	token     string
	userAgent string
	baseURL   string
	http      *http.Client
}

// NewClient creates a Discogs client. An empty token uses unauthenticated
// access, which Discogs throttles harder.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:     token,
		userAgent: "trackscout/1.0",
		baseURL:   "https://api.discogs.com",
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON decodes path into out. It reports false when the resource is missing.
func (c *httpClient) getJSON(ctx context.Context, path string, q url.Values, out any) (bool, error) {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, eris.Wrap(err, "discogs: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.discogs.v2.discogs+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Discogs token="+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "discogs: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "discogs: read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, resilience.FromResponse(
			eris.Errorf("discogs: unexpected status %d: %s", resp.StatusCode, string(body)), resp)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, eris.Wrap(err, "discogs: unmarshal response")
	}
	return true, nil
}

func (c *httpClient) SearchReleases(ctx context.Context, artist string) ([]SearchResult, error) {
	q := url.Values{
		"type":     {"release"},
		"artist":   {artist},
		"per_page": {"5"},
	}
	var resp searchResponse
	if _, err := c.getJSON(ctx, "/database/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *httpClient) GetRelease(ctx context.Context, id int64) (*Release, error) {
	var rel Release
	found, err := c.getJSON(ctx, "/releases/"+strconv.FormatInt(id, 10), nil, &rel)
	if err != nil || !found {
		return nil, err
	}
	return &rel, nil
}

func (c *httpClient) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	var a Artist
	found, err := c.getJSON(ctx, fmt.Sprintf("/artists/%d", id), nil, &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// Publisher returns the first "Published By" company credit.
func (r *Release) Publisher() string {
	for _, co := range r.Companies {
		if co.EntityTypeName == "Published By" {
			return co.Name
		}
	}
	return ""
}

// Copyright returns the first copyright company credit.
func (r *Release) Copyright() string {
	for _, co := range r.Companies {
		if co.EntityTypeName == "Copyright (c)" || co.EntityTypeName == "Phonographic Copyright (p)" {
			return co.Name
		}
	}
	return ""
}
