package apiclient

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// lowWaterMark is the remaining-budget threshold below which the client
	// sleeps until the advertised reset instead of pacing.
	lowWaterMark = 10

	// moderateWaterMark is the threshold below which the client applies an
	// adaptive per-request delay proportional to pageSize/remaining.
	moderateWaterMark = 500
)

// RateLimitState tracks the per-connector call budget observed from API
// response headers. One instance exists per platform client; it is updated
// after every response and consulted before the next request. Guarded by a
// mutex so the optional worker-pool mode can share it safely.
type RateLimitState struct {
	mu        sync.Mutex
	remaining int
	limit     int
	reset     time.Time
	cooldown  time.Time
	latency   time.Duration
	known     bool
	now       func() time.Time
}

// RateSnapshot is a point-in-time copy of the rate limit state.
type RateSnapshot struct {
	Remaining int
	Limit     int
	Reset     time.Time
	Latency   time.Duration
	Known     bool
}

func NewRateLimitState() *RateLimitState {
	return &RateLimitState{now: time.Now}
}

func (s *RateLimitState) Snapshot() RateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RateSnapshot{
		Remaining: s.remaining,
		Limit:     s.limit,
		Reset:     s.reset,
		Latency:   s.latency,
		Known:     s.known,
	}
}

// UpdateFromResponse refreshes the state from rate limit headers. Both the
// GitHub (X-RateLimit-*) and GitLab (RateLimit-*) header families are
// recognized; Retry-After establishes a mandatory cooldown. Invalid header
// values are ignored. A reset time later than the one currently tracked
// starts a new budget window.
func (s *RateLimitState) UpdateFromResponse(resp *http.Response, latency time.Duration) {
	if s == nil || resp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if latency > 0 {
		s.latency = latency
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			until := s.now().Add(time.Duration(seconds) * time.Second)
			if until.After(s.cooldown) {
				s.cooldown = until
			}
		}
	}

	if raw := firstHeader(resp.Header, "X-RateLimit-Remaining", "RateLimit-Remaining"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val >= 0 {
			s.remaining = val
			s.known = true
		}
	}
	if raw := firstHeader(resp.Header, "X-RateLimit-Limit", "RateLimit-Limit"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			s.limit = val
		}
	}
	if raw := firstHeader(resp.Header, "X-RateLimit-Reset", "RateLimit-Reset"); raw != "" {
		if val, err := strconv.ParseInt(raw, 10, 64); err == nil && val > 0 {
			s.reset = time.Unix(val, 0)
		}
	}
}

// NextDelay returns how long the caller should wait before issuing the next
// request. Below the low-water mark it waits until the reset deadline; at a
// moderate budget it paces requests proportionally to pageSize/remaining so
// call pressure decreases smoothly instead of bursting then stalling. An
// active Retry-After cooldown dominates every other consideration.
func (s *RateLimitState) NextDelay(pageSize int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if now.Before(s.cooldown) {
		return s.cooldown.Sub(now)
	}

	if !s.known {
		return 0
	}

	if s.remaining < lowWaterMark {
		if s.reset.After(now) {
			return s.reset.Sub(now)
		}
		// Reset has passed; the next response will refresh the window.
		return 0
	}

	if s.remaining < moderateWaterMark {
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}
		return time.Duration(float64(time.Second) * float64(pageSize) / float64(s.remaining))
	}

	return 0
}

// CooldownUntil reports the end of the current mandatory cooldown, if any.
func (s *RateLimitState) CooldownUntil() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Before(s.cooldown) {
		return s.cooldown, true
	}
	return time.Time{}, false
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}
