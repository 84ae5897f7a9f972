// Package lastfm provides a client for the Last.fm artist.getinfo API.
package lastfm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/resilience"
)

// Last.fm API error codes with special handling.
const (
	errInvalidParameters = 6
	errServiceOffline    = 11
	errTemporary         = 16
	errRateLimit         = 29
)

// Client defines the Last.fm operations used by this application.
type Client interface {
	// ArtistInfo returns listener stats and tags for name, or nil if Last.fm
	// does not know the artist.
	ArtistInfo(ctx context.Context, name string) (*Artist, error)
}

// Artist is the normalized artist.getinfo payload.
type Artist struct {
	Name      string
	MBID      string
	URL       string
	Listeners int64
	PlayCount int64
	Tags      []string
}

type wireArtist struct {
	Name  string `json:"name"`
	MBID  string `json:"mbid"`
	URL   string `json:"url"`
	Stats struct {
		Listeners string `json:"listeners"`
		PlayCount string `json:"playcount"`
	} `json:"stats"`
	Tags struct {
		Tag []struct {
			Name string `json:"name"`
		} `json:"tag"`
	} `json:"tags"`
}

type wireResponse struct {
	Artist  *wireArtist `json:"artist"`
	Error   int         `json:"error"`
	Message string      `json:"message"`
}

// Option configures the Last.fm client.
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

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Last.fm client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://ws.audioscrobbler.com/2.0",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ArtistInfo(ctx context.Context, name string) (*Artist, error) {
	q := url.Values{
		"method":      {"artist.getinfo"},
		"artist":      {name},
		"api_key":     {c.apiKey},
		"format":      {"json"},
		"autocorrect": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "lastfm: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "lastfm: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "lastfm: read response body")
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.FromResponse(
				eris.Errorf("lastfm: unexpected status %d", resp.StatusCode), resp)
		}
		return nil, eris.Wrap(err, "lastfm: unmarshal response")
	}

	// Last.fm reports API errors in the body, sometimes with a 200.
	switch wr.Error {
	case 0:
	case errInvalidParameters:
		return nil, nil
	case errServiceOffline, errTemporary, errRateLimit:
		return nil, resilience.NewTransientError(
			eris.Errorf("lastfm: api error %d: %s", wr.Error, wr.Message), resp.StatusCode)
	default:
		return nil, eris.Errorf("lastfm: api error %d: %s", wr.Error, wr.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromResponse(
			eris.Errorf("lastfm: unexpected status %d", resp.StatusCode), resp)
	}
	if wr.Artist == nil {
		return nil, nil
	}
	return normalize(wr.Artist), nil
}

func normalize(w *wireArtist) *Artist {
	a := &Artist{
		Name:      w.Name,
		MBID:      w.MBID,
		URL:       w.URL,
		Listeners: parseCount(w.Stats.Listeners),
		PlayCount: parseCount(w.Stats.PlayCount),
	}
	for _, t := range w.Tags.Tag {
		if t.Name != "" {
			a.Tags = append(a.Tags, t.Name)
		}
	}
	return a
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
