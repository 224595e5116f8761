package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config is the policy applied by one Limiter.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	return nil
}

// Entry is the per-identifier window state.
type Entry struct {
	Count     int
	ResetTime time.Time
	Blocked   bool
}

// expiredAt reports whether the window is over. A request landing exactly on
// ResetTime still belongs to the old window.
func (e Entry) expiredAt(now time.Time) bool {
	return now.After(e.ResetTime)
}

func freshEntry(now time.Time, window time.Duration) Entry {
	return Entry{Count: 1, ResetTime: now.Add(window)}
}

// Outcome is what counting one request did to an entry.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	// OutcomeRejected is a request against an entry that was already blocked.
	OutcomeRejected
	// OutcomeTripped is the request that moved the entry into the blocked state.
	OutcomeTripped
)

func (o Outcome) Rejected() bool { return o != OutcomeAllowed }

// countHit applies one request to current. Stores call it while holding
// whatever lock makes the read and the write a single step.
func countHit(current Entry, found bool, now time.Time, config Config) (Entry, Outcome) {
	if !found || current.expiredAt(now) {
		return freshEntry(now, config.Window), OutcomeAllowed
	}
	if current.Blocked {
		return current, OutcomeRejected
	}
	if current.Count >= config.MaxRequests {
		current.Blocked = true
		return current, OutcomeTripped
	}
	current.Count++
	return current, OutcomeAllowed
}

// Status is a read-only projection of an identifier's window.
type Status struct {
	Allowed     bool
	Count       int
	MaxRequests int
	ResetTime   time.Time
	Blocked     bool
}

// RetryAfter returns how long a blocked caller should wait, rounded up to
// whole seconds. It is zero when the caller is allowed.
func (s Status) RetryAfter(now time.Time) time.Duration {
	if s.Allowed {
		return 0
	}
	remaining := s.ResetTime.Sub(now)
	if remaining <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(remaining.Seconds())) * time.Second
}

// Class names an endpoint family with its own limiter.
type Class string

const (
	ClassGeneral Class = "general"
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
	ClassOTP     Class = "otp"
	ClassVoting  Class = "voting"
)

// Classes lists every endpoint class in a stable order.
var Classes = []Class{ClassGeneral, ClassAuth, ClassUpload, ClassOTP, ClassVoting}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[Class]Config {
	return map[Class]Config{
		ClassGeneral: {Window: 15 * time.Minute, MaxRequests: 100},
		ClassAuth:    {Window: 15 * time.Minute, MaxRequests: 5},
		ClassUpload:  {Window: time.Hour, MaxRequests: 20},
		ClassOTP:     {Window: 15 * time.Minute, MaxRequests: 3},
		ClassVoting:  {Window: 24 * time.Hour, MaxRequests: 1},
	}
}

// ParseClass maps a class name to its Class.
func ParseClass(name string) (Class, bool) {
	for _, class := range Classes {
		if string(class) == name {
			return class, true
		}
	}
	return "", false
}
