package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trackscout/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sleep advances the fake clock instead of blocking.
func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestTryAcquire_MinuteLimit(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 3}}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		ok, wait := m.TryAcquire("spotify")
		require.True(t, ok, "call %d", i)
		assert.Zero(t, wait)
		m.Record("spotify")
		clock.Advance(time.Second)
	}

	ok, wait := m.TryAcquire("spotify")
	assert.False(t, ok)
	// oldest entry is 3s old: 61s - 3s
	assert.Equal(t, 58*time.Second, wait)

	clock.Advance(wait)
	ok, wait = m.TryAcquire("spotify")
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestTryAcquire_WindowFullyElapsed(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"lastfm": {PerMinute: 5}}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		m.Record("lastfm")
	}
	ok, wait := m.TryAcquire("lastfm")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	clock.Advance(Window)
	ok, _ = m.TryAcquire("lastfm")
	assert.True(t, ok)
	assert.Equal(t, 0, m.Status("lastfm").UsedThisMinute)
}

func TestTryAcquire_DoesNotConsume(t *testing.T) {
	m := NewManager(map[string]Limits{"discogs": {PerMinute: 1}})
	for i := 0; i < 10; i++ {
		ok, _ := m.TryAcquire("discogs")
		assert.True(t, ok)
	}
	assert.Equal(t, 0, m.Status("discogs").UsedThisMinute)
}

func TestDailyQuota(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC))
	m := NewManager(map[string]Limits{"youtube": {PerDay: 2}}, WithClock(clock.Now))

	m.Record("youtube")
	clock.Advance(2 * time.Minute)
	m.Record("youtube")

	ok, wait := m.TryAcquire("youtube")
	assert.False(t, ok)
	assert.Equal(t, 58*time.Minute, wait)

	st := m.Status("youtube")
	assert.Equal(t, 2, st.UsedToday)
	assert.Equal(t, 2, st.DayLimit)

	// Counter resets at UTC midnight.
	clock.Advance(wait)
	ok, _ = m.TryAcquire("youtube")
	assert.True(t, ok)
	assert.Equal(t, 0, m.Status("youtube").UsedToday)
}

func TestDailyQuota_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 20:00 local is 01:00 UTC the next day.
	clock := newFakeClock(time.Date(2025, 3, 10, 20, 0, 0, 0, loc))
	m := NewManager(map[string]Limits{"youtube": {PerDay: 1}}, WithClock(clock.Now))

	m.Record("youtube")
	ok, wait := m.TryAcquire("youtube")
	assert.False(t, ok)
	assert.Equal(t, 23*time.Hour, wait)
}

func TestGatesAreIndependent(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"youtube": {PerMinute: 10, PerDay: 100}}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		m.Record("youtube")
	}
	ok, wait := m.TryAcquire("youtube")
	assert.False(t, ok, "minute gate blocks even with day capacity")
	assert.Equal(t, RetryBase, wait)
}

func TestUnknownProviderUnlimited(t *testing.T) {
	m := NewManager(nil)
	ok, wait := m.TryAcquire("nope")
	assert.True(t, ok)
	assert.Zero(t, wait)
	m.Record("nope")
	require.NoError(t, m.Acquire(context.Background(), "nope"))
	assert.Equal(t, Status{Provider: "nope"}, m.Status("nope"))
}

func TestZeroLimitsUnlimited(t *testing.T) {
	m := NewManager(map[string]Limits{"musicbrainz": {}})
	for i := 0; i < 1000; i++ {
		m.Record("musicbrainz")
	}
	ok, _ := m.TryAcquire("musicbrainz")
	assert.True(t, ok)
	assert.Equal(t, 1000, m.Status("musicbrainz").UsedToday)
}

func TestAcquire_ShortWaitBlocks(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 1}},
		WithClock(clock.Now), WithSleep(clock.sleep))

	require.NoError(t, m.Acquire(context.Background(), "spotify"))
	start := clock.Now()
	require.NoError(t, m.Acquire(context.Background(), "spotify"))
	assert.Equal(t, RetryBase, clock.Now().Sub(start))
	assert.Equal(t, 1, m.Status("spotify").UsedThisMinute)
}

func TestAcquire_LongWaitDefers(t *testing.T) {
	clock := newFakeClock(base)
	slept := false
	m := NewManager(map[string]Limits{"youtube": {PerDay: 1}},
		WithClock(clock.Now),
		WithSleep(func(context.Context, time.Duration) error { slept = true; return nil }))

	require.NoError(t, m.Acquire(context.Background(), "youtube"))
	err := m.Acquire(context.Background(), "youtube")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeferred))
	assert.False(t, slept)
	assert.Equal(t, 1, m.Status("youtube").UsedToday)
}

func TestAcquire_DeferralThreshold(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 1}},
		WithClock(clock.Now), WithSleep(clock.sleep), WithDeferralThreshold(10*time.Second))

	require.NoError(t, m.Acquire(context.Background(), "spotify"))
	err := m.Acquire(context.Background(), "spotify")
	assert.True(t, errors.Is(err, ErrDeferred))
}

func TestAcquire_ContextCanceled(t *testing.T) {
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Acquire(ctx, "spotify")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, m.Status("spotify").UsedThisMinute)
}

func TestAcquire_ConcurrentNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"discogs": {PerMinute: 25}},
		WithClock(clock.Now),
		WithDeferralThreshold(0))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		deferred int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Acquire(context.Background(), "discogs")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else if errors.Is(err, ErrDeferred) {
				deferred++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, granted)
	assert.Equal(t, 75, deferred)
	assert.Equal(t, 25, m.Status("discogs").UsedThisMinute)
}

func TestStatuses_SortedByName(t *testing.T) {
	m := NewManager(map[string]Limits{
		"youtube":     {PerMinute: 60, PerDay: 10000},
		"discogs":     {PerMinute: 60},
		"musicbrainz": {PerMinute: 50},
	})
	m.Record("discogs")

	st := m.Statuses()
	require.Len(t, st, 3)
	assert.Equal(t, "discogs", st[0].Provider)
	assert.Equal(t, 1, st[0].UsedThisMinute)
	assert.Equal(t, "musicbrainz", st[1].Provider)
	assert.Equal(t, "youtube", st[2].Provider)
	assert.Equal(t, 10000, st[2].DayLimit)
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.ProvidersConfig{
		MusicBrainz: config.ProviderConfig{Enabled: true, PerMinute: 50},
		YouTube:     config.ProviderConfig{Enabled: true, PerMinute: 60, PerDay: 10000},
		Spotify:     config.ProviderConfig{Enabled: false, PerMinute: 100},
	}
	limits := LimitsFromConfig(cfg)
	assert.Len(t, limits, 2)
	assert.Equal(t, Limits{PerMinute: 50}, limits["musicbrainz"])
	assert.Equal(t, Limits{PerMinute: 60, PerDay: 10000}, limits["youtube"])
	_, ok := limits["spotify"]
	assert.False(t, ok)
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestReserve_FirstAcquireUsesReservedSlot(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 2}},
		WithClock(clock.Now), WithSleep(clock.sleep))
	m.Record("spotify")

	ctx, err := m.Reserve(context.Background(), "spotify")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Status("spotify").UsedThisMinute)

	require.NoError(t, m.Acquire(ctx, "spotify"))
	assert.Equal(t, 2, m.Status("spotify").UsedThisMinute, "reserved slot is not counted twice")
	assert.Equal(t, base, clock.Now())

	require.NoError(t, m.Acquire(ctx, "spotify"))
	assert.Equal(t, base.Add(RetryBase), clock.Now(), "second acquire waits for the window")
}

func TestReserve_OtherProviderIgnoresReservation(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"spotify": {PerMinute: 5}, "lastfm": {PerMinute: 5}}, WithClock(clock.Now))

	ctx, err := m.Reserve(context.Background(), "spotify")
	require.NoError(t, err)
	require.NoError(t, m.Acquire(ctx, "lastfm"))
	assert.Equal(t, 1, m.Status("lastfm").UsedThisMinute)
}

func TestReserve_Deferred(t *testing.T) {
	clock := newFakeClock(base)
	m := NewManager(map[string]Limits{"discogs": {PerDay: 1}},
		WithClock(clock.Now), WithDeferralThreshold(time.Minute))
	m.Record("discogs")

	_, err := m.Reserve(context.Background(), "discogs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeferred))
}
