package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trackscout/internal/budget"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
)

type stubIdentity struct {
	calls int32
	fn    func(ctx context.Context, id model.Identifier) (*model.ProviderRecord, bool, error)
}

func (s *stubIdentity) Name() string { return "musicbrainz" }

func (s *stubIdentity) LookupIdentifier(ctx context.Context, id model.Identifier) (*model.ProviderRecord, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(ctx, id)
}

type stubSearcher struct {
	name  string
	calls int32
	fn    func(ctx context.Context, name string) (*model.ProviderRecord, bool, error)
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(ctx, name)
}

type stubChannel struct {
	fn func(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error)
}

func (s *stubChannel) Name() string { return "youtube" }

func (s *stubChannel) GetSecondaryChannelAnalytics(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error) {
	return s.fn(ctx, ref)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry(attempts int) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.Sleep = noSleep
	return cfg
}

const testISRC = model.Identifier("USRC17607839")

func TestGate_PassesThroughFound(t *testing.T) {
	inner := &stubIdentity{fn: func(context.Context, model.Identifier) (*model.ProviderRecord, bool, error) {
		return &model.ProviderRecord{TrackTitle: "Night Drive"}, true, nil
	}}
	g := NewGate(nil, WithRetry(testRetry(1)))

	rec, found, err := g.Identity(inner).LookupIdentifier(context.Background(), testISRC)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Night Drive", rec.TrackTitle)
	assert.Equal(t, "musicbrainz", g.Identity(inner).Name())
}

func TestGate_NotFoundIsNotAnError(t *testing.T) {
	inner := &stubSearcher{name: "spotify", fn: func(context.Context, string) (*model.ProviderRecord, bool, error) {
		return nil, false, nil
	}}
	g := NewGate(nil, WithRetry(testRetry(1)))

	rec, found, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
}

func TestGate_BudgetDeferralFailsFast(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := budget.NewManager(map[string]budget.Limits{"spotify": {PerMinute: 1}},
		budget.WithClock(func() time.Time { return now }))
	b.Record("spotify")

	inner := &stubSearcher{name: "spotify", fn: func(context.Context, string) (*model.ProviderRecord, bool, error) {
		return &model.ProviderRecord{}, true, nil
	}}
	g := NewGate(b, WithRetry(testRetry(1)), WithDeferralThreshold(time.Second))

	_, found, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Lena Vox")
	require.Error(t, err)
	assert.False(t, found)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
	assert.Equal(t, int32(0), atomic.LoadInt32(&inner.calls), "deferred call never reaches the provider")
}

// advancingClock is a budget clock whose sleep moves time forward.
type advancingClock struct {
	now   time.Time
	slept time.Duration
	timed bool
}

func (c *advancingClock) Now() time.Time { return c.now }

func (c *advancingClock) Sleep(ctx context.Context, d time.Duration) error {
	if _, ok := ctx.Deadline(); ok {
		c.timed = true
	}
	c.slept += d
	c.now = c.now.Add(d)
	return nil
}

func newAdvancingBudget(limits map[string]budget.Limits) (*budget.Manager, *advancingClock) {
	clock := &advancingClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := budget.NewManager(limits, budget.WithClock(clock.Now), budget.WithSleep(clock.Sleep))
	return b, clock
}

func TestGate_ShortBudgetWaitProceeds(t *testing.T) {
	b, clock := newAdvancingBudget(map[string]budget.Limits{"spotify": {PerMinute: 1}})
	b.Record("spotify")

	inner := &stubSearcher{name: "spotify", fn: func(context.Context, string) (*model.ProviderRecord, bool, error) {
		return &model.ProviderRecord{Followers: 10}, true, nil
	}}
	g := NewGate(b, WithRetry(testRetry(1)), WithDeferralThreshold(5*time.Minute))

	rec, found, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Lena Vox")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), rec.Followers)
	assert.Equal(t, budget.RetryBase, clock.slept)
	assert.Equal(t, 1, b.Status("spotify").UsedThisMinute)
}

func TestGate_BudgetWaitOutlastsCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, clock := newAdvancingBudget(map[string]budget.Limits{"spotify": {PerMinute: 1}})
	b.Record("spotify")
	hc := b.HTTPClient("spotify", 200*time.Millisecond)

	inner := &stubSearcher{name: "spotify", fn: func(ctx context.Context, _ string) (*model.ProviderRecord, bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, false, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, false, err
		}
		resp.Body.Close() //nolint:errcheck
		return &model.ProviderRecord{Followers: 7}, true, nil
	}}
	g := NewGate(b, WithRetry(testRetry(1)), WithCallTimeout(200*time.Millisecond))

	rec, found, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Lena Vox")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), rec.Followers)
	assert.Greater(t, clock.slept, 200*time.Millisecond)
	assert.False(t, clock.timed, "budget wait runs before the call deadline starts")
	assert.Equal(t, 1, b.Status("spotify").UsedThisMinute, "the request uses the reserved slot")
	states := g.Breakers().States()
	require.Len(t, states, 1)
	assert.Zero(t, states[0].Failures)
}

func TestGate_RetriesTransient(t *testing.T) {
	var n int32
	inner := &stubSearcher{name: "lastfm", fn: func(context.Context, string) (*model.ProviderRecord, bool, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			return nil, false, resilience.NewTransientError(errors.New("503"), 503)
		}
		return &model.ProviderRecord{Listeners: 42}, true, nil
	}}
	g := NewGate(nil, WithRetry(testRetry(3)))

	rec, found, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Lena Vox")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), rec.Listeners)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestGate_PermanentErrorNotRetried(t *testing.T) {
	inner := &stubSearcher{name: "discogs", fn: func(context.Context, string) (*model.ProviderRecord, bool, error) {
		return nil, false, errors.New("discogs: unexpected status 400")
	}}
	g := NewGate(nil, WithRetry(testRetry(3)))

	_, _, err := g.Searcher(inner).SearchByArtistName(context.Background(), "Lena Vox")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), "discogs search_by_artist_name")
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestGate_TimeoutIsUnavailable(t *testing.T) {
	inner := &stubIdentity{fn: func(ctx context.Context, _ model.Identifier) (*model.ProviderRecord, bool, error) {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}}
	g := NewGate(nil, WithRetry(testRetry(1)), WithCallTimeout(20*time.Millisecond))

	start := time.Now()
	_, found, err := g.Identity(inner).LookupIdentifier(context.Background(), testISRC)
	require.Error(t, err)
	assert.False(t, found)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGate_OpenCircuitSkipsProvider(t *testing.T) {
	cb := resilience.DefaultCircuitBreakerConfig()
	cb.FailureThreshold = 2
	cb.ResetTimeout = time.Hour
	g := NewGate(nil,
		WithRetry(testRetry(1)),
		WithBreakers(resilience.NewServiceBreakers(cb)),
	)

	inner := &stubChannel{fn: func(context.Context, string) (*model.AnalyticsRecord, bool, error) {
		return nil, false, errors.New("youtube: unexpected status 500")
	}}
	var calls int32
	counted := &stubChannel{fn: func(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error) {
		atomic.AddInt32(&calls, 1)
		return inner.fn(ctx, ref)
	}}
	ch := g.Channel(counted)

	for i := 0; i < 3; i++ {
		_, _, err := ch.GetSecondaryChannelAnalytics(context.Background(), "Lena Vox")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "third call short-circuits")

	states := g.Breakers().States()
	require.Len(t, states, 1)
	assert.Equal(t, "youtube", states[0].Provider)
}

func TestNewGateFromConfig(t *testing.T) {
	g := NewGateFromConfig(testPipelineConfig(), nil)
	assert.Equal(t, 3*time.Second, g.timeout)
	assert.Equal(t, 10*time.Second, g.deferral)
	assert.Equal(t, 4, g.retry.MaxAttempts)
}
