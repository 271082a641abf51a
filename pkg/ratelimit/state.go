// Package ratelimit paces requests against the treehole backend.
// A local token bucket smooths the bursts of one process; an optional
// Redis-backed Tracker enforces a request budget shared by every process
// that uses the same key prefix.
package ratelimit

import (
	"time"
)

// DefaultKeyPrefix namespaces the Redis keys of the shared budget.
const DefaultKeyPrefix = "woodpecker:budget"

// Thresholds for rate limit decisions, in requests remaining in the window.
const (
	// RemainingThresholdWarning applies throttling when fewer requests remain.
	RemainingThresholdWarning = 20

	// RemainingThresholdHealthy indicates normal operation.
	RemainingThresholdHealthy = 50
)

// State is the shared request budget of the current window.
type State struct {
	// Used is the number of requests counted in the current window.
	Used int `json:"used"`

	// Budget is the number of requests allowed per window.
	Budget int `json:"budget"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was read.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when at least RemainingThresholdHealthy requests
	// remain, or the whole budget is smaller than that and still untouched.
	IsHealthy bool `json:"is_healthy"`
}

// Remaining returns the requests left in the window, never negative.
func (s *State) Remaining() int {
	return max(s.Budget-s.Used, 0)
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true once the budget is spent.
func (s *State) NeedsCriticalBlock() bool {
	return s.Used > s.Budget
}

// NeedsThrottling returns true in the warning band just before the budget
// is spent. Small budgets use a band of a fifth of the budget.
func (s *State) NeedsThrottling() bool {
	return s.Remaining() < min(RemainingThresholdWarning, s.Budget/5) && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Used and Budget.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining() >= min(RemainingThresholdHealthy, s.Budget) && !s.NeedsCriticalBlock()
}
