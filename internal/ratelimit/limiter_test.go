package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/guestlens/internal/media"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, store Store, clock *manualClock, rules ...Rule) *Limiter {
	t.Helper()
	return New(store, Config{
		Rules:    map[media.Kind][]Rule{media.KindVideo: rules, media.KindPhoto: rules},
		FailOpen: true,
		Now:      clock.Now,
	}, zaptest.NewLogger(t))
}

func TestLimiterSixthCallInWindowIsRejected(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	l := newTestLimiter(t, NewMemoryStore(), clock, Rule{Name: "10m", Window: 10 * time.Minute, Max: 5})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		dec, err := l.Check(ctx, "guest-1", media.KindPhoto)
		require.NoError(t, err)
		require.True(t, dec.Allowed, "call %d", i)
		assert.Equal(t, 5-i, dec.Remaining)
		clock.Advance(time.Minute)
	}

	dec, err := l.Check(ctx, "guest-1", media.KindPhoto)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "10m", dec.Rule)
	assert.Equal(t, time.Date(2026, 6, 1, 18, 10, 0, 0, time.UTC), dec.ResetAt)

	clock.Advance(5 * time.Minute)
	dec, err = l.Check(ctx, "guest-1", media.KindPhoto)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "fresh window after expiry")
	assert.Equal(t, 4, dec.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	l := newTestLimiter(t, NewMemoryStore(), clock, Rule{Name: "hour", Window: time.Hour, Max: 1})
	ctx := context.Background()

	for _, call := range []struct {
		caller string
		kind   media.Kind
	}{
		{"guest-1", media.KindPhoto},
		{"guest-1", media.KindVideo},
		{"guest-2", media.KindPhoto},
	} {
		dec, err := l.Check(ctx, call.caller, call.kind)
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "%s/%s", call.caller, call.kind)
	}

	dec, err := l.Check(ctx, "guest-1", media.KindPhoto)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestLimiterStopsAtFirstRejectingRule(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	store := NewMemoryStore()
	l := newTestLimiter(t, store, clock,
		Rule{Name: "hour", Window: time.Hour, Max: 2},
		Rule{Name: "day", Window: 24 * time.Hour, Max: 3},
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		dec, err := l.Check(ctx, "g", media.KindVideo)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}
	dec, err := l.Check(ctx, "g", media.KindVideo)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "hour", dec.Rule)

	clock.Advance(time.Hour)
	dec, err = l.Check(ctx, "g", media.KindVideo)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(ctx, "g", media.KindVideo)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "day", dec.Rule)
}

func TestLimiterRejectedAttemptsDoNotConsumeEarlierRules(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	l := newTestLimiter(t, store, clock,
		Rule{Name: "hour", Window: time.Hour, Max: 3},
		Rule{Name: "day", Window: 24 * time.Hour, Max: 1},
	)
	ctx := context.Background()

	dec, err := l.Check(ctx, "g", media.KindPhoto)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	for i := 0; i < 4; i++ {
		dec, err = l.Check(ctx, "g", media.KindPhoto)
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, "day", dec.Rule, "attempt %d", i+2)
		assert.Equal(t, time.Date(2026, 6, 2, 18, 0, 0, 0, time.UTC), dec.ResetAt)
	}

	w, ok, err := store.Take(ctx, Key("g", media.KindPhoto, "hour"), time.Hour, 3, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, w.Count, "only the allowed call was counted")
}

func TestMemoryStoreRefundIgnoresReplacedWindow(t *testing.T) {
	s := NewMemoryStore()
	start := time.Now()
	ctx := context.Background()

	w, _, err := s.Take(ctx, "k", time.Minute, 3, start)
	require.NoError(t, err)
	_, _, err = s.Take(ctx, "k", time.Minute, 3, start.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.Refund(ctx, "k", w.Start))
	w, _, err = s.Take(ctx, "k", time.Minute, 3, start.Add(time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, w.Count)
}

func TestLimiterConcurrentCallsNeverOvershoot(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	l := newTestLimiter(t, NewMemoryStore(), clock, Rule{Name: "hour", Window: time.Hour, Max: 50})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.Check(ctx, "crowd", media.KindPhoto)
			if err == nil && dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, allowed.Load())
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, time.Duration, int, time.Time) (Window, bool, error) {
	return Window{}, false, errors.New("connection refused")
}

func (failingStore) Refund(context.Context, string, time.Time) error { return nil }

func TestLimiterStoreFailure(t *testing.T) {
	rules := map[media.Kind][]Rule{media.KindPhoto: {{Name: "hour", Window: time.Hour, Max: 5}}}

	open := New(failingStore{}, Config{Rules: rules, FailOpen: true}, zaptest.NewLogger(t))
	dec, err := open.Check(context.Background(), "g", media.KindPhoto)
	require.Error(t, err)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Degraded)

	closed := New(failingStore{}, Config{Rules: rules, FailOpen: false}, zaptest.NewLogger(t))
	dec, err = closed.Check(context.Background(), "g", media.KindPhoto)
	require.Error(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.Degraded)
}

func TestLimiterDisabledRules(t *testing.T) {
	l := New(failingStore{}, Config{
		Rules: map[media.Kind][]Rule{media.KindPhoto: {{Name: "off", Window: time.Hour, Max: 0}}},
	}, zaptest.NewLogger(t))

	dec, err := l.Check(context.Background(), "g", media.KindPhoto)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(context.Background(), "g", media.KindVideo)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	ctx := context.Background()

	_, _, err := s.Take(ctx, "short", time.Minute, 5, now)
	require.NoError(t, err)
	_, _, err = s.Take(ctx, "long", time.Hour, 5, now)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	assert.Equal(t, 1, s.Sweep(now.Add(time.Minute)))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreWindowResetsOnceAtBoundary(t *testing.T) {
	s := NewMemoryStore()
	start := time.Now()
	ctx := context.Background()

	w, ok, err := s.Take(ctx, "k", time.Minute, 3, start)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, w.Count)

	w, _, _ = s.Take(ctx, "k", time.Minute, 3, start.Add(59*time.Second))
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, start, w.Start)

	w, _, _ = s.Take(ctx, "k", time.Minute, 3, start.Add(time.Minute))
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, start.Add(time.Minute), w.Start)

	w, _, _ = s.Take(ctx, "k", time.Minute, 3, start.Add(time.Minute+time.Second))
	assert.Equal(t, 2, w.Count)
}
