package toolbridge

import (
	"sync"
	"testing"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(1000, 10)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("test-key") {
			t.Errorf("Allow() should return true for request %d (within burst)", i)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2)
	if !limiter.Allow("1.2.3.4") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("1.2.3.4") {
		t.Error("second request should be allowed (burst)")
	}
	if limiter.Allow("1.2.3.4") {
		t.Error("third request should be blocked (over limit)")
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2)
	limiter.Allow("1.2.3.4")
	limiter.Allow("1.2.3.4")

	if !limiter.Allow("5.6.7.8") {
		t.Error("a different remote address should still have full burst")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(10000, 100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "key-" + string(rune('0'+i%10))
			if limiter.Allow(key) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if allowed != 200 {
		t.Errorf("allowed = %d, want 200 with high limits", allowed)
	}
}

func TestRemoteAddrKey(t *testing.T) {
	cases := map[string]string{
		"1.2.3.4:5678":    "1.2.3.4",
		"[::1]:5678":      "::1",
		"not-a-host-port": "not-a-host-port",
	}
	for addr, want := range cases {
		if got := remoteAddrKey(addr); got != want {
			t.Errorf("remoteAddrKey(%q) = %q, want %q", addr, got, want)
		}
	}
}
