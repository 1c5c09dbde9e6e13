package resolver

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("t1") {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}
	if rl.Allow("t1") {
		t.Error("call over limit allowed")
	}
	if rl.Remaining("t1") != 0 {
		t.Errorf("Remaining = %d, want 0", rl.Remaining("t1"))
	}

	// Other threads are unaffected.
	if !rl.Allow("t2") {
		t.Error("fresh thread denied")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("t1") {
		t.Fatal("first call denied")
	}
	if rl.Allow("t1") {
		t.Fatal("second call inside window allowed")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("t1") {
		t.Error("call after window expiry denied")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit {
		t.Errorf("limit = %d, want %d", rl.limit, DefaultRateLimit)
	}
	if rl.window != defaultRateLimitWindow {
		t.Errorf("window = %v, want %v", rl.window, defaultRateLimitWindow)
	}
}
