package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *manualTime) {
	mt := &manualTime{now: time.Unix(1700000000, 0)}
	rl := NewRateLimiter(limit, window)
	rl.now = mt.Now
	return rl, mt
}

func TestRateLimiter_Allow_WithinLimit(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request should be rate limited")
	}
}

func TestRateLimiter_Allow_DifferentKeys(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Second)

	if !rl.Allow("a") || !rl.Allow("b") {
		t.Fatal("first request per key should be allowed")
	}
	if rl.Allow("a") || rl.Allow("b") {
		t.Error("second request per key should be rate limited")
	}
}

func TestRateLimiter_Allow_WindowExpiration(t *testing.T) {
	rl, mt := newTestLimiter(2, 100*time.Millisecond)

	rl.Allow("k")
	rl.Allow("k")
	if rl.Allow("k") {
		t.Error("third request should be rate limited")
	}

	mt.Add(150 * time.Millisecond)

	if !rl.Allow("k") {
		t.Error("request after window expiration should be allowed")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(0, time.Second)

	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter should allow everything")
		}
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Second)

	rl.Allow("k")
	if rl.Allow("k") {
		t.Error("second request should be rate limited")
	}

	rl.Reset()

	if !rl.Allow("k") {
		t.Error("request after reset should be allowed")
	}
}

func TestRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	rl, mt := newTestLimiter(2, time.Second)

	rl.Allow("idle")
	mt.Add(cleanupInterval + time.Second)
	rl.Allow("active")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["idle"]; ok {
		t.Error("cleanup should remove idle keys")
	}
	if _, ok := rl.requests["active"]; !ok {
		t.Error("cleanup should keep active keys")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow("k")
			}
		}()
	}
	wg.Wait()

	if rl.Allow("k") {
		t.Error("request after 100 concurrent requests should be rate limited")
	}
}
