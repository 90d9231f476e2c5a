// Package store tracks which resolver candidates already played, using a
// Bloom filter fast path in front of a capacity-bounded set.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PlayedStore is a thread-safe set of track IDs with LRU eviction once the
// capacity is exceeded. Has answers through a Bloom filter first so the
// common miss case never touches the map.
type PlayedStore struct {
	trackIDs          map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewPlayedStore creates a store holding at most capacity track IDs.
func NewPlayedStore(capacity int, falsePositiveRate float64) *PlayedStore {
	if capacity <= 0 {
		panic("store: capacity must be positive")
	}
	lruCache, _ := lru.New[string, struct{}](capacity)

	return &PlayedStore{
		trackIDs:          make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		lru:               lruCache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has reports whether trackID was already played.
func (ps *PlayedStore) Has(trackID string) bool {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.bloom.TestString(trackID) {
		return false
	}

	_, exists := ps.trackIDs[trackID]
	return exists
}

// Add records trackID as played, evicting the oldest entry when full.
func (ps *PlayedStore) Add(trackID string) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if _, exists := ps.trackIDs[trackID]; exists {
		return
	}

	ps.trackIDs[trackID] = struct{}{}
	ps.bloom.AddString(trackID)
	ps.lru.Add(trackID, struct{}{})

	if len(ps.trackIDs) > ps.capacity {
		ps.evictOldest()
	}
}

// Size returns the number of track IDs currently stored.
func (ps *PlayedStore) Size() int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return len(ps.trackIDs)
}

// Clear empties the store. The Bloom filter is rebuilt since it does not
// support removal.
func (ps *PlayedStore) Clear() {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	ps.trackIDs = make(map[string]struct{})
	ps.bloom = bloom.NewWithEstimates(uint(ps.capacity), ps.falsePositiveRate)
	ps.lru.Purge()
}

func (ps *PlayedStore) evictOldest() {
	oldestKey, _, ok := ps.lru.GetOldest()
	if !ok {
		return
	}

	delete(ps.trackIDs, oldestKey)
	ps.lru.Remove(oldestKey)
}
