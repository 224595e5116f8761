package ratelimit

// Decision results reported to a Recorder.
const (
	ResultAllowed  = "allowed"
	ResultBlocked  = "blocked"
	ResultFailOpen = "fail_open"
)

// Recorder receives limiter decisions for metrics.
type Recorder interface {
	RecordRateLimitDecision(class string, result string)
	RecordRateLimitSweep(class string, removed int)
}

// noopRecorder keeps the hot path free of nil checks.
type noopRecorder struct{}

func (noopRecorder) RecordRateLimitDecision(string, string) {}
func (noopRecorder) RecordRateLimitSweep(string, int)       {}
