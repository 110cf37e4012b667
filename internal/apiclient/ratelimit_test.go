package apiclient

import (
	"net/http"
	"testing"
	"time"
)

func TestRateLimitState(t *testing.T) {
	fixedNow := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	newState := func() *RateLimitState {
		s := NewRateLimitState()
		s.now = func() time.Time { return fixedNow }
		return s
	}

	response := func(headers map[string]string) *http.Response {
		resp := &http.Response{Header: make(http.Header)}
		for k, v := range headers {
			resp.Header.Set(k, v)
		}
		return resp
	}

	t.Run("UpdateFromResponse sets remaining and reset", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "10",
			"X-RateLimit-Limit":     "5000",
			"X-RateLimit-Reset":     "1700000000",
		}), 50*time.Millisecond)

		snap := s.Snapshot()
		if !snap.Known {
			t.Fatal("Expected state to become known")
		}
		if snap.Remaining != 10 {
			t.Fatalf("Expected 10 remaining, got %d", snap.Remaining)
		}
		if snap.Limit != 5000 {
			t.Fatalf("Expected limit 5000, got %d", snap.Limit)
		}
		if !snap.Reset.Equal(time.Unix(1700000000, 0)) {
			t.Fatalf("Expected reset %v, got %v", time.Unix(1700000000, 0), snap.Reset)
		}
	})

	t.Run("UpdateFromResponse accepts the unprefixed header family", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"RateLimit-Remaining": "42",
			"RateLimit-Limit":     "600",
		}), 0)

		snap := s.Snapshot()
		if snap.Remaining != 42 || snap.Limit != 600 {
			t.Fatalf("Expected 42/600, got %d/%d", snap.Remaining, snap.Limit)
		}
	})

	t.Run("UpdateFromResponse ignores invalid header values", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "not-a-number",
			"X-RateLimit-Reset":     "-5",
		}), 0)

		if s.Snapshot().Known {
			t.Fatal("Expected state to remain unknown after invalid headers")
		}
	})

	t.Run("NextDelay is zero before any response", func(t *testing.T) {
		s := newState()
		if d := s.NextDelay(100); d != 0 {
			t.Fatalf("Expected no delay for unknown state, got %v", d)
		}
	})

	t.Run("NextDelay waits for reset below the low-water mark", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "5",
		}), 0)
		s.mu.Lock()
		s.reset = fixedNow.Add(90 * time.Second)
		s.mu.Unlock()

		if d := s.NextDelay(100); d != 90*time.Second {
			t.Fatalf("Expected 90s delay, got %v", d)
		}
	})

	t.Run("NextDelay is zero when low and the reset has passed", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "2",
		}), 0)
		s.mu.Lock()
		s.reset = fixedNow.Add(-time.Minute)
		s.mu.Unlock()

		if d := s.NextDelay(100); d != 0 {
			t.Fatalf("Expected no delay after reset passed, got %v", d)
		}
	})

	t.Run("NextDelay paces proportionally at a moderate budget", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "200",
		}), 0)

		if d := s.NextDelay(100); d != 500*time.Millisecond {
			t.Fatalf("Expected 500ms delay for 100/200, got %v", d)
		}
	})

	t.Run("NextDelay is zero with a healthy budget", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"X-RateLimit-Remaining": "4500",
		}), 0)

		if d := s.NextDelay(100); d != 0 {
			t.Fatalf("Expected no delay, got %v", d)
		}
	})

	t.Run("Retry-After establishes a dominating cooldown", func(t *testing.T) {
		s := newState()
		s.UpdateFromResponse(response(map[string]string{
			"Retry-After":           "30",
			"X-RateLimit-Remaining": "4500",
		}), 0)

		if d := s.NextDelay(100); d != 30*time.Second {
			t.Fatalf("Expected 30s cooldown, got %v", d)
		}
		until, active := s.CooldownUntil()
		if !active {
			t.Fatal("Expected an active cooldown")
		}
		if !until.Equal(fixedNow.Add(30 * time.Second)) {
			t.Fatalf("Expected cooldown until %v, got %v", fixedNow.Add(30*time.Second), until)
		}
	})

	t.Run("CooldownUntil is inactive once expired", func(t *testing.T) {
		s := newState()
		s.mu.Lock()
		s.cooldown = fixedNow.Add(-time.Second)
		s.mu.Unlock()

		if _, active := s.CooldownUntil(); active {
			t.Fatal("Expected no active cooldown")
		}
	})
}
