package flood

import (
	"testing"
	"time"
)

func TestGateAllowsWithinBudget(t *testing.T) {
	g := NewGate(3)
	defer g.Stop()

	for i := 0; i < 3; i++ {
		if !g.Allow("guild1", "user1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if g.Allow("guild1", "user1") {
		t.Error("4th request should be blocked")
	}
}

func TestGateSlidingWindow(t *testing.T) {
	g := NewGate(2)
	defer g.Stop()

	if !g.Allow("guild1", "user1") {
		t.Error("First request should be allowed")
	}
	if !g.Allow("guild1", "user1") {
		t.Error("Second request should be allowed")
	}
	if g.Allow("guild1", "user1") {
		t.Error("Third request should be blocked")
	}

	// age the recorded timestamps past the window
	g.mutex.Lock()
	if entry, ok := g.entries["guild1:user1"]; ok {
		past := time.Now().Add(-61 * time.Second)
		for i := range entry.timestamps {
			entry.timestamps[i] = past
		}
	}
	g.mutex.Unlock()

	if !g.Allow("guild1", "user1") {
		t.Error("Request after window slide should be allowed")
	}
}

func TestGatePerUserPerGuild(t *testing.T) {
	g := NewGate(2)
	defer g.Stop()

	for i := 0; i < 2; i++ {
		if !g.Allow("guild1", "user1") {
			t.Errorf("Request %d in guild1 should be allowed", i+1)
		}
		if !g.Allow("guild2", "user1") {
			t.Errorf("Request %d in guild2 should be allowed", i+1)
		}
		if !g.Allow("guild1", "user2") {
			t.Errorf("Request %d from user2 should be allowed", i+1)
		}
	}

	if g.Allow("guild1", "user1") {
		t.Error("Extra request from user1 in guild1 should be blocked")
	}
	if g.Allow("guild2", "user1") {
		t.Error("Extra request from user1 in guild2 should be blocked")
	}
	if g.Allow("guild1", "user2") {
		t.Error("Extra request from user2 in guild1 should be blocked")
	}
}

func TestGateZeroLimitBlocksEverything(t *testing.T) {
	g := NewGate(0)
	defer g.Stop()

	if g.Allow("guild1", "user1") {
		t.Error("Request should be blocked with zero limit")
	}
}

func TestGateSweep(t *testing.T) {
	g := NewGate(1)
	defer g.Stop()

	g.Allow("guild1", "user1")
	g.Allow("guild2", "user2")

	g.mutex.Lock()
	for _, entry := range g.entries {
		entry.lastSeen = time.Now().Add(-idleTimeout - time.Minute)
	}
	g.mutex.Unlock()

	g.sweep()

	g.mutex.Lock()
	remaining := len(g.entries)
	g.mutex.Unlock()
	if remaining != 0 {
		t.Errorf("Expected 0 entries after sweep, got %d", remaining)
	}

	if !g.Allow("guild3", "user3") {
		t.Error("Gate should still work after sweep")
	}
}

func TestGateConcurrentAccess(t *testing.T) {
	g := NewGate(10)
	defer g.Stop()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 5; j++ {
				g.Allow("guild1", "user1")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
