package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trackscout/internal/resilience"
)

func newServer(t *testing.T, search http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)) //nolint:errcheck
	})
	mux.HandleFunc("/v1/search", search)
	srv := httptest.NewServer(mux)
	return srv, &tokenCalls
}

func TestSearchArtist(t *testing.T) {
	t.Parallel()

	srv, tokenCalls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "artist", r.URL.Query().Get("type"))
		assert.Equal(t, "lena vox", r.URL.Query().Get("q"))
		w.Write([]byte(`{"artists":{"items":[
		  {"id":"a0","name":"Lena Voxx","genres":[],"popularity":3,"followers":{"total":10}},
		  {"id":"a1","name":"Lena Vox","genres":["synth-pop","indietronica"],"popularity":41,
		   "followers":{"total":25000},"external_urls":{"spotify":"https://open.spotify.com/artist/a1"}}
		]}}`)) //nolint:errcheck
	})
	defer srv.Close()

	c := NewClient("id", "secret", WithBaseURL(srv.URL+"/v1"), WithTokenURL(srv.URL+"/api/token"))

	a, err := c.SearchArtist(context.Background(), "lena vox")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.ID, "exact name match wins over ranking")
	assert.Equal(t, int64(25000), a.Followers.Total)
	assert.Equal(t, 41, a.Popularity)
	assert.Equal(t, "https://open.spotify.com/artist/a1", a.URL())

	// Token is cached across calls.
	_, err = c.SearchArtist(context.Background(), "lena vox")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls))
}

func TestSearchArtist_NoResults(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"artists":{"items":[]}}`)) //nolint:errcheck
	})
	defer srv.Close()

	c := NewClient("id", "secret", WithBaseURL(srv.URL+"/v1"), WithTokenURL(srv.URL+"/api/token"))
	a, err := c.SearchArtist(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSearchArtist_RateLimited(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	c := NewClient("id", "secret", WithBaseURL(srv.URL+"/v1"), WithTokenURL(srv.URL+"/api/token"))
	_, err := c.SearchArtist(context.Background(), "x")
	require.Error(t, err)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
}

func TestSearchArtist_TokenFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("id", "bad", WithBaseURL(srv.URL+"/v1"), WithTokenURL(srv.URL+"/api/token"))
	_, err := c.SearchArtist(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spotify: request failed")
}

func TestBestMatch(t *testing.T) {
	t.Parallel()
	assert.Nil(t, bestMatch("x", nil))
	items := []Artist{{ID: "1", Name: "Other"}, {ID: "2", Name: " X "}}
	assert.Equal(t, "2", bestMatch("x", items).ID)
	assert.Equal(t, "1", bestMatch("y", items).ID)
}
