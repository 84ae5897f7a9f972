// Package spotify provides a client for the Spotify Web API artist search,
// authenticated with the OAuth2 client-credentials flow.
package spotify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sells-group/trackscout/internal/resilience"
)

// Client defines the Spotify operations used by this application.
type Client interface {
	// SearchArtist returns the best artist match for name, or nil if none.
	SearchArtist(ctx context.Context, name string) (*Artist, error)
}

// Artist is a Spotify artist object.
type Artist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Genres       []string          `json:"genres"`
	Popularity   int               `json:"popularity"`
	Followers    Followers         `json:"followers"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// Followers is the follower count wrapper Spotify returns.
type Followers struct {
	Total int64 `json:"total"`
}

// URL returns the artist's open.spotify.com link.
func (a *Artist) URL() string {
	return a.ExternalURLs["spotify"]
}

type searchResponse struct {
	Artists struct {
		Items []Artist `json:"items"`
	} `json:"artists"`
}

// Option configures the Spotify client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTokenURL sets a custom OAuth2 token endpoint (for testing).
func WithTokenURL(u string) Option {
	return func(c *httpClient) {
		c.tokenURL = u
	}
}

// WithHTTPClient sets the HTTP client used for both token and API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.base = hc
	}
}

type httpClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	base         *http.Client
	http         *http.Client
}

// NewClient creates a Spotify client. Tokens are fetched lazily and cached
// until expiry.
func NewClient(clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      "https://api.spotify.com/v1",
		tokenURL:     "https://accounts.spotify.com/api/token",
		base:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	cc := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	c.http = cc.Client(tokenCtx)
	c.http.Timeout = c.base.Timeout
	return c
}

func (c *httpClient) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	q := url.Values{
		"q":     {name},
		"type":  {"artist"},
		"limit": {"5"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "spotify: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "spotify: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "spotify: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromResponse(
			eris.Errorf("spotify: unexpected status %d: %s", resp.StatusCode, string(body)), resp)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "spotify: unmarshal response")
	}
	return bestMatch(name, sr.Artists.Items), nil
}

// bestMatch prefers an exact case-insensitive name match, then Spotify's
// own ranking.
func bestMatch(name string, items []Artist) *Artist {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if strings.EqualFold(strings.TrimSpace(items[i].Name), strings.TrimSpace(name)) {
			return &items[i]
		}
	}
	return &items[0]
}
