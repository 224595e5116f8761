package ratelimit

import (
	"context"
	"time"
)

// Set holds one Limiter per endpoint class.
type Set struct {
	limiters map[Class]*Limiter
}

// NewSet builds a Limiter for every class in policies. storeFor picks the
// Store of each class; nil means a MemoryStore per class.
func NewSet(policies map[Class]Config, storeFor func(Class) (Store, error), options ...Option) (*Set, error) {
	set := &Set{limiters: make(map[Class]*Limiter, len(policies))}
	for class, config := range policies {
		classOptions := append([]Option(nil), options...)
		if storeFor != nil {
			store, err := storeFor(class)
			if err != nil {
				return nil, err
			}
			classOptions = append(classOptions, WithStore(store))
		}
		limiter, err := New(class, config, classOptions...)
		if err != nil {
			return nil, err
		}
		set.limiters[class] = limiter
	}
	return set, nil
}

// For returns the Limiter of class, or nil when the class is not configured.
func (s *Set) For(class Class) *Limiter {
	return s.limiters[class]
}

// Sweep sweeps every class and returns the total removed.
func (s *Set) Sweep(ctx context.Context) int {
	total := 0
	for _, limiter := range s.limiters {
		total += limiter.Sweep(ctx)
	}
	return total
}

// RunCleanup sweeps every class on each tick until ctx is done.
func (s *Set) RunCleanup(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func() { s.Sweep(ctx) })
}
