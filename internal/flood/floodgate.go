// Package flood rate-limits song requests per user so one person cannot
// stuff a guild's queue.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window requests are counted over
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle entries are swept
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a user may be quiet before their entry is dropped
	idleTimeout = 10 * time.Minute
)

// Gate tracks request timestamps per guild and user and answers whether the
// next request is still within the per-minute budget.
type Gate struct {
	limitPerMinute int
	entries        map[string]*windowEntry // key: "guildID:userID"
	mutex          sync.Mutex
	stopCleanup    chan struct{}
}

type windowEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// NewGate creates a gate allowing limitPerMinute requests per user per guild
// over a fixed 60 second sliding window.
func NewGate(limitPerMinute int) *Gate {
	g := &Gate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*windowEntry),
		stopCleanup:    make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// Stop ends the background sweep goroutine.
func (g *Gate) Stop() {
	close(g.stopCleanup)
}

// Allow reports whether a request from userID in guildID fits the budget and
// records it when it does.
func (g *Gate) Allow(guildID, userID string) bool {
	key := guildID + ":" + userID
	now := time.Now()

	g.mutex.Lock()
	defer g.mutex.Unlock()

	entry, ok := g.entries[key]
	if !ok {
		entry = &windowEntry{timestamps: make([]time.Time, 0, g.limitPerMinute+1)}
		g.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	live := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			live = append(live, ts)
		}
	}
	entry.timestamps = live

	if len(entry.timestamps) >= g.limitPerMinute {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

func (g *Gate) cleanupLoop() {
	g.sweep()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stopCleanup:
			return
		}
	}
}

// sweep drops entries that have been idle past idleTimeout.
func (g *Gate) sweep() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for key, entry := range g.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(g.entries, key)
		}
	}
}
