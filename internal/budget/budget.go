// Package budget enforces per-provider request budgets: a sliding 60-second
// window and an optional calendar-day quota reset at UTC midnight.
package budget

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/config"
)

const (
	// Window is the length of the sliding per-minute window.
	Window = 60 * time.Second
	// RetryBase is the wait reported for a full window, measured from the
	// oldest call still inside it.
	RetryBase = 61 * time.Second
	// DefaultDeferralThreshold is the longest wait Acquire absorbs by blocking.
	DefaultDeferralThreshold = 5 * time.Minute
)

// ErrDeferred is returned by Acquire when the implied wait exceeds the
// deferral threshold. The call must be abandoned, not retried in place.
var ErrDeferred = eris.New("budget: call deferred")

// Limits is the immutable budget for one provider. Zero means unlimited.
type Limits struct {
	PerMinute int
	PerDay    int
}

// Status is a point-in-time view of one provider's budget.
type Status struct {
	Provider       string `json:"provider"`
	UsedThisMinute int    `json:"used_this_minute"`
	MinuteLimit    int    `json:"minute_limit"`
	UsedToday      int    `json:"used_today"`
	DayLimit       int    `json:"day_limit"`
}

type bucket struct {
	mu       sync.Mutex
	limits   Limits
	window   []time.Time
	day      string
	dayCount int
}

// Manager holds one bucket per configured provider. The bucket map is fixed at
// construction; each bucket is guarded by its own lock.
type Manager struct {
	buckets  map[string]*bucket
	deferral time.Duration

	// nowFunc allows test injection of time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// WithSleep overrides how Acquire waits for a short deferral.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleepFunc = sleep }
}

// WithDeferralThreshold sets the longest wait Acquire will block for.
func WithDeferralThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.deferral = d
		}
	}
}

// NewManager creates a Manager for the given provider limits.
func NewManager(limits map[string]Limits, opts ...Option) *Manager {
	m := &Manager{
		buckets:   make(map[string]*bucket, len(limits)),
		deferral:  DefaultDeferralThreshold,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	for name, l := range limits {
		m.buckets[name] = &bucket{limits: l}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LimitsFromConfig builds the limit table for every enabled provider.
func LimitsFromConfig(cfg config.ProvidersConfig) map[string]Limits {
	limits := make(map[string]Limits)
	for _, pc := range cfg.All() {
		if !pc.Enabled {
			continue
		}
		limits[pc.Name] = Limits{PerMinute: pc.PerMinute, PerDay: pc.PerDay}
	}
	return limits
}

// TryAcquire reports whether a call to provider may proceed now and, if not,
// how long until it may. It does not consume a slot.
func (m *Manager) TryAcquire(provider string) (bool, time.Duration) {
	b, ok := m.buckets[provider]
	if !ok {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.check(m.nowFunc())
}

// Record marks one consumed slot for provider.
func (m *Manager) Record(provider string) {
	b, ok := m.buckets[provider]
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := m.nowFunc()
	b.check(now)
	b.consume(now)
}

// Acquire checks and consumes a slot in one critical section. Waits up to the
// deferral threshold are absorbed by blocking the caller; longer waits return
// ErrDeferred. A successful Acquire counts as the Record for that call.
func (m *Manager) Acquire(ctx context.Context, provider string) error {
	if r, ok := ctx.Value(reservationKey{}).(*reservation); ok && r.provider == provider && r.used.CompareAndSwap(false, true) {
		return nil
	}
	b, ok := m.buckets[provider]
	if !ok {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "budget: acquire %s", provider)
		}

		b.mu.Lock()
		now := m.nowFunc()
		allowed, wait := b.check(now)
		if allowed {
			b.consume(now)
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		if wait > m.deferral {
			return eris.Wrapf(ErrDeferred, "%s: retry after %s", provider, wait.Round(time.Second))
		}
		if err := m.sleepFunc(ctx, wait); err != nil {
			return eris.Wrapf(err, "budget: wait for %s", provider)
		}
	}
}

type reservationKey struct{}

type reservation struct {
	provider string
	used     atomic.Bool
}

// Reserve acquires a slot for provider and returns a context carrying it. The
// first Acquire for provider under the returned context takes the reserved
// slot without waiting, so a caller can block for budget before starting a
// deadline for the call itself.
func (m *Manager) Reserve(ctx context.Context, provider string) (context.Context, error) {
	if err := m.Acquire(ctx, provider); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, reservationKey{}, &reservation{provider: provider}), nil
}

// Status returns the current usage for provider.
func (m *Manager) Status(provider string) Status {
	b, ok := m.buckets[provider]
	if !ok {
		return Status{Provider: provider}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.check(m.nowFunc())
	return Status{
		Provider:       provider,
		UsedThisMinute: len(b.window),
		MinuteLimit:    b.limits.PerMinute,
		UsedToday:      b.dayCount,
		DayLimit:       b.limits.PerDay,
	}
}

// Statuses returns the status of every configured provider sorted by name.
func (m *Manager) Statuses() []Status {
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		out = append(out, m.Status(name))
	}
	return out
}

// check evicts expired entries, rolls the day counter and evaluates both
// gates. Caller must hold b.mu.
func (b *bucket) check(now time.Time) (bool, time.Duration) {
	i := 0
	for i < len(b.window) && now.Sub(b.window[i]) >= Window {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}

	today := now.UTC().Format(time.DateOnly)
	if today != b.day {
		b.day = today
		b.dayCount = 0
	}

	var wait time.Duration
	if b.limits.PerMinute > 0 && len(b.window) >= b.limits.PerMinute {
		wait = RetryBase - now.Sub(b.window[0])
	}
	if b.limits.PerDay > 0 && b.dayCount >= b.limits.PerDay {
		if untilMidnight := nextUTCMidnight(now).Sub(now); untilMidnight > wait {
			wait = untilMidnight
		}
	}
	if wait > 0 {
		return false, wait
	}
	return true, 0
}

// consume appends one call. Caller must hold b.mu and have called check.
func (b *bucket) consume(now time.Time) {
	b.window = append(b.window, now)
	b.dayCount++
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
