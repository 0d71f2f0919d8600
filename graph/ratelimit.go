package graph

import (
	"context"
	"sync"
	"time"
)

// RateLimitState tracks the provider's account-wide throttling window. It
// is reactive: it only learns about limits from rate-limit error responses,
// because the provider does not return counters on success. A single state
// is shared by every client the factory hands out.
type RateLimitState struct {
	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
	updatedAt time.Time

	// now is replaceable in tests
	now func() time.Time
}

// RateLimitSnapshot is a read-only copy of the current state.
type RateLimitSnapshot struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	UpdatedAt time.Time
}

// NewRateLimitState creates an empty state. Until the first throttled
// response is observed, Wait never sleeps.
func NewRateLimitState() *RateLimitState {
	return &RateLimitState{now: time.Now}
}

// Observe records the throttling headers from a rate-limit error. Called
// only from the retry engine's error-handling path.
func (s *RateLimitState) Observe(err error) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	info := parseRateLimitHeaders(apiErr.Headers, now)
	s.updatedAt = now

	if info.hasCounts {
		s.limit = info.limit
		s.remaining = info.remaining
	} else {
		// A 429 with no counters still means the window is exhausted.
		s.remaining = 0
	}
	if info.hasResetAt {
		s.resetAt = info.resetAt
	} else if s.resetAt.Before(now) {
		// No reset hint at all: assume a short window.
		s.resetAt = now.Add(defaultCooldown)
	}
}

// defaultCooldown is assumed when a throttled response carries no
// retry-after or reset header.
const defaultCooldown = 10 * time.Second

// Snapshot returns a copy of the current state.
func (s *RateLimitState) Snapshot() RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RateLimitSnapshot{
		Limit:     s.limit,
		Remaining: s.remaining,
		ResetAt:   s.resetAt,
		UpdatedAt: s.updatedAt,
	}
}

// cooldown returns how long a new request must wait before issuing its
// next attempt, or zero when the window is open.
func (s *RateLimitState) cooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining > 0 {
		return 0
	}
	now := s.now()
	if s.resetAt.After(now) {
		return s.resetAt.Sub(now)
	}
	return 0
}

// Wait sleeps until the recorded reset instant when the last observed
// window is exhausted. Unrelated requests each decide independently;
// nothing serializes them.
func (s *RateLimitState) Wait(ctx context.Context) error {
	delay := s.cooldown()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		// Assume the window replenished; the next 429 will correct us.
		s.mu.Lock()
		if !s.resetAt.After(s.now()) {
			s.remaining = s.limit
		}
		s.mu.Unlock()
		return nil
	}
}
