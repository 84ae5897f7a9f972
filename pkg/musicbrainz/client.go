// Package musicbrainz provides a client for the MusicBrainz web service (v2),
// used to resolve an ISRC to its recording, release and artist.
package musicbrainz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sells-group/trackscout/internal/resilience"
)

// Client defines the MusicBrainz lookups used by this application. Lookups
// return nil with a nil error when the entity does not exist.
type Client interface {
	LookupISRC(ctx context.Context, isrc string) (*Recording, error)
	LookupRelease(ctx context.Context, mbid string) (*Release, error)
	LookupArtist(ctx context.Context, mbid string) (*Artist, error)
}

// ArtistCredit is one credited artist on a recording.
type ArtistCredit struct {
	ID   string
	Name string
}

// ReleaseRef is a release a recording appears on.
type ReleaseRef struct {
	ID      string
	Title   string
	Date    string
	Country string
	Status  string
}

// Recording is the recording an ISRC resolves to.
type Recording struct {
	ID       string
	Title    string
	Length   time.Duration
	Artists  []ArtistCredit
	Releases []ReleaseRef
}

// Release holds the release fields looked up with its labels.
type Release struct {
	ID      string
	Title   string
	Date    string
	Country string
	Labels  []string
}

// URLRelation is an external link attached to an artist.
type URLRelation struct {
	Type string
	URL  string
}

// Artist holds the artist fields looked up with URL relations and genres.
type Artist struct {
	ID        string
	Name      string
	Country   string
	Type      string
	Genres    []string
	Relations []URLRelation
}

// Option configures the MusicBrainz client.
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

// WithRateLimit overrides the default pacing of 1 req/s. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	userAgent string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a MusicBrainz client. MusicBrainz rejects requests
// without a descriptive User-Agent.
func NewClient(userAgent string, opts ...Option) Client {
	c := &httpClient{
		userAgent: userAgent,
		baseURL:   "https://musicbrainz.org/ws/2",
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get fetches path with the given query and returns the body. A 404 returns
// a nil body and nil error.
func (c *httpClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "musicbrainz: rate limit wait")
		}
	}

	q.Set("fmt", "json")
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "musicbrainz: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "musicbrainz: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "musicbrainz: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.FromResponse(
			eris.Errorf("musicbrainz: unexpected status %d: %s", resp.StatusCode, truncate(body)), resp)
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.New("musicbrainz: invalid json response")
	}
	return body, nil
}

func (c *httpClient) LookupISRC(ctx context.Context, isrc string) (*Recording, error) {
	// inc values are space separated; Encode renders them as "+".
	body, err := c.get(ctx, "isrc/"+url.PathEscape(isrc), url.Values{"inc": {"artists releases"}})
	if err != nil || body == nil {
		return nil, err
	}

	recs := gjson.GetBytes(body, "recordings")
	if !recs.IsArray() || len(recs.Array()) == 0 {
		return nil, nil
	}
	return parseRecording(recs.Array()[0]), nil
}

func (c *httpClient) LookupRelease(ctx context.Context, mbid string) (*Release, error) {
	body, err := c.get(ctx, "release/"+url.PathEscape(mbid), url.Values{"inc": {"labels"}})
	if err != nil || body == nil {
		return nil, err
	}

	r := gjson.ParseBytes(body)
	rel := &Release{
		ID:      r.Get("id").String(),
		Title:   r.Get("title").String(),
		Date:    r.Get("date").String(),
		Country: r.Get("country").String(),
	}
	r.Get("label-info.#.label.name").ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			rel.Labels = append(rel.Labels, s)
		}
		return true
	})
	return rel, nil
}

func (c *httpClient) LookupArtist(ctx context.Context, mbid string) (*Artist, error) {
	body, err := c.get(ctx, "artist/"+url.PathEscape(mbid), url.Values{"inc": {"url-rels genres"}})
	if err != nil || body == nil {
		return nil, err
	}

	r := gjson.ParseBytes(body)
	a := &Artist{
		ID:      r.Get("id").String(),
		Name:    r.Get("name").String(),
		Country: r.Get("country").String(),
		Type:    r.Get("type").String(),
	}
	if a.Country == "" {
		a.Country = r.Get("area.iso-3166-1-codes.0").String()
	}
	r.Get("genres.#.name").ForEach(func(_, v gjson.Result) bool {
		a.Genres = append(a.Genres, v.String())
		return true
	})
	r.Get("relations").ForEach(func(_, rel gjson.Result) bool {
		if res := rel.Get("url.resource").String(); res != "" {
			a.Relations = append(a.Relations, URLRelation{Type: rel.Get("type").String(), URL: res})
		}
		return true
	})
	return a, nil
}

func parseRecording(r gjson.Result) *Recording {
	rec := &Recording{
		ID:     r.Get("id").String(),
		Title:  r.Get("title").String(),
		Length: time.Duration(r.Get("length").Int()) * time.Millisecond,
	}
	r.Get("artist-credit").ForEach(func(_, ac gjson.Result) bool {
		name := ac.Get("artist.name").String()
		if name == "" {
			name = ac.Get("name").String()
		}
		rec.Artists = append(rec.Artists, ArtistCredit{ID: ac.Get("artist.id").String(), Name: name})
		return true
	})
	r.Get("releases").ForEach(func(_, rel gjson.Result) bool {
		rec.Releases = append(rec.Releases, ReleaseRef{
			ID:      rel.Get("id").String(),
			Title:   rel.Get("title").String(),
			Date:    rel.Get("date").String(),
			Country: rel.Get("country").String(),
			Status:  rel.Get("status").String(),
		})
		return true
	})
	return rec
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
