// Package youtube provides a client for the YouTube Data API v3 channel
// endpoints.
package youtube

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/resilience"
)

// Client defines the YouTube operations used by this application. Lookups
// return nil with a nil error when nothing matches.
type Client interface {
	ChannelByID(ctx context.Context, id string) (*Channel, error)
	ChannelByHandle(ctx context.Context, handle string) (*Channel, error)
	SearchChannel(ctx context.Context, query string) (*Channel, error)
	LatestUpload(ctx context.Context, uploadsPlaylistID string) (*time.Time, error)
}

// Channel is a normalized channel resource.
type Channel struct {
	ID                string
	Title             string
	CustomURL         string
	Subscribers       int64
	HiddenSubscribers bool
	Views             int64
	VideoCount        int64
	UploadsPlaylistID string
}

// URL returns the channel's public URL.
func (c *Channel) URL() string {
	if c.CustomURL != "" {
		return "https://www.youtube.com/" + c.CustomURL
	}
	return "https://www.youtube.com/channel/" + c.ID
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title     string `json:"title"`
			CustomURL string `json:"customUrl"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount             string `json:"viewCount"`
			SubscriberCount       string `json:"subscriberCount"`
			HiddenSubscriberCount bool   `json:"hiddenSubscriberCount"`
			VideoCount            string `json:"videoCount"`
		} `json:"statistics"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			ChannelID string `json:"channelId"`
		} `json:"id"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoPublishedAt time.Time `json:"videoPublishedAt"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Option configures the YouTube client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
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

// NewClient creates a YouTube Data API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/youtube/v3",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "youtube: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "youtube: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "youtube: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.FromResponse(
			eris.Errorf("youtube: %s unexpected status %d: %s", path, resp.StatusCode, string(body)), resp)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "youtube: unmarshal %s response", path)
	}
	return nil
}

func (c *httpClient) channels(ctx context.Context, q url.Values) (*Channel, error) {
	q.Set("part", "snippet,statistics,contentDetails")
	var resp channelsResponse
	if err := c.getJSON(ctx, "/channels", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	it := resp.Items[0]
	return &Channel{
		ID:                it.ID,
		Title:             it.Snippet.Title,
		CustomURL:         it.Snippet.CustomURL,
		Subscribers:       parseCount(it.Statistics.SubscriberCount),
		HiddenSubscribers: it.Statistics.HiddenSubscriberCount,
		Views:             parseCount(it.Statistics.ViewCount),
		VideoCount:        parseCount(it.Statistics.VideoCount),
		UploadsPlaylistID: it.ContentDetails.RelatedPlaylists.Uploads,
	}, nil
}

func (c *httpClient) ChannelByID(ctx context.Context, id string) (*Channel, error) {
	return c.channels(ctx, url.Values{"id": {id}})
}

func (c *httpClient) ChannelByHandle(ctx context.Context, handle string) (*Channel, error) {
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return c.channels(ctx, url.Values{"forHandle": {handle}})
}

func (c *httpClient) SearchChannel(ctx context.Context, query string) (*Channel, error) {
	q := url.Values{
		"part":       {"snippet"},
		"type":       {"channel"},
		"q":          {query},
		"maxResults": {"1"},
	}
	var resp searchResponse
	if err := c.getJSON(ctx, "/search", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].ID.ChannelID == "" {
		return nil, nil
	}
	return c.ChannelByID(ctx, resp.Items[0].ID.ChannelID)
}

func (c *httpClient) LatestUpload(ctx context.Context, uploadsPlaylistID string) (*time.Time, error) {
	if uploadsPlaylistID == "" {
		return nil, nil
	}
	q := url.Values{
		"part":       {"contentDetails"},
		"playlistId": {uploadsPlaylistID},
		"maxResults": {"1"},
	}
	var resp playlistItemsResponse
	if err := c.getJSON(ctx, "/playlistItems", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.VideoPublishedAt.IsZero() {
		return nil, nil
	}
	t := resp.Items[0].ContentDetails.VideoPublishedAt
	return &t, nil
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
