package router

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60)
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("Frame %d should be allowed within burst", i)
		}
	}
	if rl.Allow("alice") {
		t.Error("Frame beyond burst should be refused")
	}

	// Other users have their own bucket
	if !rl.Allow("bob") {
		t.Error("bob should not share alice's bucket")
	}

	now = now.Add(2 * time.Second)
	if !rl.Allow("alice") {
		t.Error("Expected refill after two seconds at one frame per second")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10)
	rl.now = func() time.Time { return now }

	rl.Allow("alice")
	now = now.Add(4 * time.Minute)
	rl.Allow("bob")
	now = now.Add(2 * time.Minute)

	if removed := rl.Cleanup(5 * time.Minute); removed != 1 {
		t.Errorf("Expected one stale user removed, got %d", removed)
	}
	if rl.Size() != 1 {
		t.Errorf("Expected bob to remain, size %d", rl.Size())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if rl.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 500 {
		t.Errorf("Expected all 500 frames within a 1000 burst, got %d", allowed)
	}
}
