package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
)

var testStart = time.Date(2026, 4, 12, 8, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, config Config, options ...Option) (*Limiter, *clock.Manual) {
	t.Helper()
	manualClock := clock.NewManual(testStart)
	limiter, err := New(ClassAuth, config, append([]Option{WithClock(manualClock)}, options...)...)
	require.NoError(t, err)
	return limiter, manualClock
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(ClassGeneral, Config{Window: 0, MaxRequests: 10})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ClassGeneral, Config{Window: time.Minute, MaxRequests: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAllowBlocksAfterMaxRequests(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{Window: 15 * time.Minute, MaxRequests: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(ctx, "203.0.113.5"), "request %d", i+1)
	}
	assert.False(t, limiter.Allow(ctx, "203.0.113.5"))
	assert.False(t, limiter.Allow(ctx, "203.0.113.5"))

	status := limiter.Status(ctx, "203.0.113.5")
	assert.True(t, status.Blocked)
	assert.False(t, status.Allowed)
	assert.Equal(t, 5, status.Count, "blocked entries are not counted further")
}

func TestAllowIsolatesIdentifiers(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1})

	assert.True(t, limiter.Allow(ctx, "198.51.100.1"))
	assert.False(t, limiter.Allow(ctx, "198.51.100.1"))
	assert.True(t, limiter.Allow(ctx, "198.51.100.2"))
}

func TestAllowOpensFreshWindowAfterReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter, manualClock := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 2}, WithStore(store))

	assert.True(t, limiter.Allow(ctx, "10.0.0.1"))
	assert.True(t, limiter.Allow(ctx, "10.0.0.1"))
	assert.False(t, limiter.Allow(ctx, "10.0.0.1"))

	manualClock.Advance(time.Minute)
	assert.False(t, limiter.Allow(ctx, "10.0.0.1"), "the reset instant still belongs to the old window")

	manualClock.Advance(time.Millisecond)
	assert.True(t, limiter.Allow(ctx, "10.0.0.1"))

	entry, found, err := store.Get(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, entry.Count)
	assert.False(t, entry.Blocked)
	assert.Equal(t, manualClock.Now().Add(time.Minute), entry.ResetTime)
}

func TestAllowNormalizesIdentifiers(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 3})

	assert.True(t, limiter.Allow(ctx, "1.2.3.4:9999"))
	assert.True(t, limiter.Allow(ctx, "1.2.3.4:1111"))
	assert.True(t, limiter.Allow(ctx, "1.2.3.4"))
	assert.False(t, limiter.Allow(ctx, "1.2.3.4:80"))

	assert.Equal(t, 3, limiter.Status(ctx, "1.2.3.4").Count)
}

func TestNormalizeIdentifier(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"1.2.3.4:9999", "1.2.3.4"},
		{"1.2.3.4", "1.2.3.4"},
		{"Voter-ABC", "voter-abc"},
		{"2001:db8::1", "2001"},
		{"", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeIdentifier(tc.input))
		})
	}
}

type failingStore struct {
	MemoryStore
	panics bool
}

func (s *failingStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("store offline")
}

func (s *failingStore) Hit(context.Context, string, time.Time, Config) (Entry, Outcome, error) {
	if s.panics {
		panic("corrupt entry")
	}
	return Entry{}, OutcomeAllowed, errors.New("store offline")
}

func TestAllowFailsOpen(t *testing.T) {
	for _, panics := range []bool{false, true} {
		core, logs := observer.New(zapcore.ErrorLevel)
		limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1},
			WithStore(&failingStore{panics: panics}),
			WithLogger(zap.New(core)))

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow(context.Background(), "203.0.113.9"))
		}
		assert.Equal(t, 3, logs.Len(), "every failure is logged")
	}
}

func TestAllowLogsWarningOnceWhenTripped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1}, WithLogger(zap.New(core)))

	limiter.Allow(context.Background(), "203.0.113.5")
	limiter.Allow(context.Background(), "203.0.113.5")
	limiter.Allow(context.Background(), "203.0.113.5")

	entries := logs.FilterMessage("rate limit exceeded").All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap()["identifier"], "203.0.113.5")
}

func TestStatusOfUnseenIdentifier(t *testing.T) {
	limiter, manualClock := newTestLimiter(t, Config{Window: 15 * time.Minute, MaxRequests: 100})

	status := limiter.Status(context.Background(), "unseen-ip")
	assert.True(t, status.Allowed)
	assert.Equal(t, 0, status.Count)
	assert.False(t, status.Blocked)
	assert.Equal(t, 100, status.MaxRequests)
	assert.Equal(t, manualClock.Now().Add(15*time.Minute), status.ResetTime)
}

func TestStatusDoesNotCount(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 2})

	limiter.Allow(ctx, "10.1.1.1")
	for i := 0; i < 5; i++ {
		limiter.Status(ctx, "10.1.1.1")
	}
	status := limiter.Status(ctx, "10.1.1.1")
	assert.Equal(t, 1, status.Count)
	assert.True(t, status.Allowed)
}

func TestStatusTreatsExpiredEntryAsFresh(t *testing.T) {
	ctx := context.Background()
	limiter, manualClock := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1})

	limiter.Allow(ctx, "10.1.1.1")
	limiter.Allow(ctx, "10.1.1.1")
	require.True(t, limiter.Status(ctx, "10.1.1.1").Blocked)

	manualClock.Advance(2 * time.Minute)
	status := limiter.Status(ctx, "10.1.1.1")
	assert.True(t, status.Allowed)
	assert.False(t, status.Blocked)
	assert.Equal(t, 0, status.Count)
}

func TestStatusRetryAfter(t *testing.T) {
	now := testStart
	blocked := Status{Allowed: false, ResetTime: now.Add(1500 * time.Millisecond)}
	assert.Equal(t, 2*time.Second, blocked.RetryAfter(now))

	elapsed := Status{Allowed: false, ResetTime: now.Add(-time.Second)}
	assert.Equal(t, time.Second, elapsed.RetryAfter(now))

	allowed := Status{Allowed: true, ResetTime: now.Add(time.Hour)}
	assert.Zero(t, allowed.RetryAfter(now))
}

func TestResetUnblocksImmediately(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	limiter, _ := newTestLimiter(t, Config{Window: 15 * time.Minute, MaxRequests: 5}, WithLogger(zap.New(core)))

	for i := 0; i < 6; i++ {
		limiter.Allow(ctx, "203.0.113.5")
	}
	require.False(t, limiter.Allow(ctx, "203.0.113.5"))

	limiter.Reset(ctx, "203.0.113.5")
	assert.True(t, limiter.Allow(ctx, "203.0.113.5"))
	assert.Equal(t, 1, logs.FilterMessage("rate limit reset").Len())
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter, manualClock := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 10}, WithStore(store))

	limiter.Allow(ctx, "10.0.0.1")
	limiter.Allow(ctx, "10.0.0.2")
	manualClock.Advance(30 * time.Second)
	limiter.Allow(ctx, "10.0.0.3")

	manualClock.Advance(31 * time.Second)
	assert.Equal(t, 2, limiter.Sweep(ctx))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, limiter.Sweep(ctx))
}

type countingRecorder struct {
	mu        sync.Mutex
	decisions map[string]int
	swept     int
}

func (r *countingRecorder) RecordRateLimitDecision(_ string, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = make(map[string]int)
	}
	r.decisions[result]++
}

func (r *countingRecorder) RecordRateLimitSweep(_ string, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept += removed
}

func TestRecorderSeesDecisions(t *testing.T) {
	ctx := context.Background()
	recorder := &countingRecorder{}
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 2}, WithRecorder(recorder))

	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, "10.0.0.1")
	}
	assert.Equal(t, 2, recorder.decisions[ResultAllowed])
	assert.Equal(t, 2, recorder.decisions[ResultBlocked])
}

func TestAllowIsSafeForConcurrentUse(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 50})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	wg.Add(100)
	for n := 0; n < 100; n++ {
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, "10.9.9.9") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestCountHitTransitions(t *testing.T) {
	config := Config{Window: time.Minute, MaxRequests: 2}
	open := Entry{Count: 1, ResetTime: testStart.Add(time.Minute)}
	full := Entry{Count: 2, ResetTime: testStart.Add(time.Minute)}
	blocked := Entry{Count: 2, ResetTime: testStart.Add(time.Minute), Blocked: true}

	testCases := []struct {
		name     string
		current  Entry
		found    bool
		now      time.Time
		expected Entry
		outcome  Outcome
	}{
		{"unseen", Entry{}, false, testStart, Entry{Count: 1, ResetTime: testStart.Add(time.Minute)}, OutcomeAllowed},
		{"counting", open, true, testStart, full, OutcomeAllowed},
		{"tripping", full, true, testStart, blocked, OutcomeTripped},
		{"blocked", blocked, true, testStart.Add(30 * time.Second), blocked, OutcomeRejected},
		{"reset instant", blocked, true, testStart.Add(time.Minute), blocked, OutcomeRejected},
		{"expired", blocked, true, testStart.Add(time.Minute + time.Millisecond),
			Entry{Count: 1, ResetTime: testStart.Add(2*time.Minute + time.Millisecond)}, OutcomeAllowed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, outcome := countHit(tc.current, tc.found, tc.now, config)
			assert.Equal(t, tc.expected, next)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		limiter.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func BenchmarkLimiterAllow(b *testing.B) {
	limiter, err := New(ClassGeneral, Config{Window: time.Minute, MaxRequests: 1 << 30})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		limiter.Allow(ctx, "10.0.0.1:443")
	}
}
