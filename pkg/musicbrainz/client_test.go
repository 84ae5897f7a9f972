package musicbrainz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trackscout/internal/resilience"
)

const isrcBody = `{
  "isrc": "USRC17607839",
  "recordings": [{
    "id": "rec-1",
    "title": "Night Drive",
    "length": 215000,
    "artist-credit": [{"name": "Lena Vox", "artist": {"id": "art-1", "name": "Lena Vox"}}],
    "releases": [
      {"id": "rel-1", "title": "Night Drive EP", "date": "2024-05-03", "country": "US", "status": "Official"}
    ]
  }]
}`

const artistBody = `{
  "id": "art-1",
  "name": "Lena Vox",
  "type": "Person",
  "country": "",
  "area": {"iso-3166-1-codes": ["CA"]},
  "genres": [{"name": "synth-pop"}, {"name": "indie pop"}],
  "relations": [
    {"type": "youtube", "url": {"resource": "https://www.youtube.com/@lenavox"}},
    {"type": "official homepage", "url": {"resource": "https://lenavox.com"}},
    {"type": "free streaming", "url": {"resource": ""}}
  ]
}`

const releaseBody = `{
  "id": "rel-1",
  "title": "Night Drive EP",
  "date": "2024-05-03",
  "country": "US",
  "label-info": [{"label": {"name": "Lena Vox Music"}}, {"label": null}]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trackscout-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))

		switch r.URL.Path {
		case "/isrc/USRC17607839":
			assert.Equal(t, "artists releases", r.URL.Query().Get("inc"))
			w.Write([]byte(isrcBody)) //nolint:errcheck
		case "/isrc/GBAYE9900531":
			w.Write([]byte(`{"isrc":"GBAYE9900531","recordings":[]}`)) //nolint:errcheck
		case "/artist/art-1":
			w.Write([]byte(artistBody)) //nolint:errcheck
		case "/release/rel-1":
			w.Write([]byte(releaseBody)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestLookupISRC(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	rec, err := c.LookupISRC(context.Background(), "USRC17607839")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "Night Drive", rec.Title)
	assert.Equal(t, 215*time.Second, rec.Length)
	require.Len(t, rec.Artists, 1)
	assert.Equal(t, ArtistCredit{ID: "art-1", Name: "Lena Vox"}, rec.Artists[0])
	require.Len(t, rec.Releases, 1)
	assert.Equal(t, "2024-05-03", rec.Releases[0].Date)
}

func TestLookupISRC_NotFound(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))

	rec, err := c.LookupISRC(context.Background(), "GBAYE9900531")
	require.NoError(t, err)
	assert.Nil(t, rec, "empty recordings is not found")

	rec, err = c.LookupISRC(context.Background(), "QZ9AB2412345")
	require.NoError(t, err)
	assert.Nil(t, rec, "404 is not found")
}

func TestLookupArtist(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	a, err := c.LookupArtist(context.Background(), "art-1")
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, "CA", a.Country, "falls back to area code")
	assert.Equal(t, []string{"synth-pop", "indie pop"}, a.Genres)
	assert.Equal(t, []URLRelation{
		{Type: "youtube", URL: "https://www.youtube.com/@lenavox"},
		{Type: "official homepage", URL: "https://lenavox.com"},
	}, a.Relations)
}

func TestLookupRelease(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	rel, err := c.LookupRelease(context.Background(), "rel-1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, []string{"Lena Vox Music"}, rel.Labels)
	assert.Equal(t, "US", rel.Country)
}

func TestLookup_ServiceUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.LookupISRC(context.Background(), "USRC17607839")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2*time.Second, te.RetryAfter)
}

func TestLookup_BadRequestNotTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid isrc."}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.LookupISRC(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestLookup_InvalidJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("trackscout-test/1.0", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.LookupArtist(context.Background(), "art-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid json")
}

func TestRateLimitWaitHonoursContext(t *testing.T) {
	t.Parallel()
	c := NewClient("trackscout-test/1.0", WithBaseURL("http://127.0.0.1:0"), WithRateLimit(0.001))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.LookupISRC(ctx, "USRC17607839")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
