package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/logging"
)

// DefaultCleanupInterval is how often RunCleanup sweeps expired entries.
const DefaultCleanupInterval = 5 * time.Minute

// Limiter applies one fixed-window Config to every identifier it sees.
type Limiter struct {
	class    Class
	config   Config
	store    Store
	clock    clock.Clock
	logger   *zap.Logger
	recorder Recorder
}

type Option func(*Limiter)

func WithStore(store Store) Option {
	return func(l *Limiter) {
		if store != nil {
			l.store = store
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(l *Limiter) {
		if recorder != nil {
			l.recorder = recorder
		}
	}
}

// New builds a Limiter for class. Without options it uses a MemoryStore,
// the system clock and a no-op logger.
func New(class Class, config Config, options ...Option) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s limiter: %w", class, err)
	}
	limiter := &Limiter{
		class:    class,
		config:   config,
		store:    NewMemoryStore(),
		clock:    clock.SystemClock{},
		logger:   zap.NewNop(),
		recorder: noopRecorder{},
	}
	for _, option := range options {
		option(limiter)
	}
	limiter.logger = limiter.logger.Named("ratelimit").With(zap.String("class", string(class)))
	return limiter, nil
}

func (l *Limiter) Config() Config { return l.config }

// NormalizeIdentifier keeps the part before the first ':' and lower-cases it.
func NormalizeIdentifier(identifier string) string {
	host, _, _ := strings.Cut(identifier, ":")
	return strings.ToLower(host)
}

// Allow counts one request for identifier and reports whether it may proceed.
// It never returns false because of an internal failure.
func (l *Limiter) Allow(ctx context.Context, identifier string) (allowed bool) {
	key := NormalizeIdentifier(identifier)

	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("rate limiter panicked, allowing request",
				zap.Any("panic", recovered),
				zap.String("identifier", logging.Fingerprint(key)))
			l.recorder.RecordRateLimitDecision(string(l.class), ResultFailOpen)
			allowed = true
		}
	}()

	entry, outcome, err := l.store.Hit(ctx, key, l.clock.Now(), l.config)
	if err != nil {
		l.logger.Error("rate limiter store failed, allowing request",
			zap.Error(err),
			zap.String("identifier", logging.Fingerprint(key)))
		l.recorder.RecordRateLimitDecision(string(l.class), ResultFailOpen)
		return true
	}

	if outcome == OutcomeTripped {
		l.logger.Warn("rate limit exceeded",
			zap.String("identifier", logging.Fingerprint(key)),
			zap.Int("count", entry.Count),
			zap.Int("max_requests", l.config.MaxRequests),
			zap.Time("reset_time", entry.ResetTime))
	}
	if outcome.Rejected() {
		l.recorder.RecordRateLimitDecision(string(l.class), ResultBlocked)
		return false
	}
	l.recorder.RecordRateLimitDecision(string(l.class), ResultAllowed)
	return true
}

// Status reports identifier's window without counting a request.
func (l *Limiter) Status(ctx context.Context, identifier string) Status {
	key := NormalizeIdentifier(identifier)
	now := l.clock.Now()

	entry, found, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit status unavailable",
			zap.Error(err),
			zap.String("identifier", logging.Fingerprint(key)))
		found = false
	}
	if !found || entry.expiredAt(now) {
		return Status{
			Allowed:     true,
			MaxRequests: l.config.MaxRequests,
			ResetTime:   now.Add(l.config.Window),
		}
	}
	return Status{
		Allowed:     !entry.Blocked && entry.Count < l.config.MaxRequests,
		Count:       entry.Count,
		MaxRequests: l.config.MaxRequests,
		ResetTime:   entry.ResetTime,
		Blocked:     entry.Blocked,
	}
}

// Reset forgets identifier's window.
func (l *Limiter) Reset(ctx context.Context, identifier string) {
	key := NormalizeIdentifier(identifier)
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Error("rate limit reset failed",
			zap.Error(err),
			zap.String("identifier", logging.Fingerprint(key)))
		return
	}
	l.logger.Info("rate limit reset", zap.String("identifier", logging.Fingerprint(key)))
}

// Sweep removes expired entries and returns how many were dropped.
func (l *Limiter) Sweep(ctx context.Context) int {
	removed, err := l.store.DeleteExpired(ctx, l.clock.Now())
	if err != nil {
		l.logger.Warn("rate limit sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		l.logger.Info("rate limit sweep", zap.Int("removed", removed))
	}
	l.recorder.RecordRateLimitSweep(string(l.class), removed)
	return removed
}

// RunCleanup sweeps on every tick until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func() { l.Sweep(ctx) })
}

func runEvery(ctx context.Context, interval time.Duration, task func()) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}
