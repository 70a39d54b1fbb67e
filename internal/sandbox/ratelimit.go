package sandbox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 15 * time.Minute
	limiterCleanupEvery = 2 * time.Minute
)

// limiterStore keeps one token bucket per client key and forgets idle keys.
type limiterStore struct {
	mutex        sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(rps float64, burst int) *limiterStore {
	return &limiterStore{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      limiterIdleTTL,
		cleanupEvery: limiterCleanupEvery,
	}
}

// allow reports whether key may make another request now.
func (store *limiterStore) allow(key string) bool {
	now := time.Now()
	store.mutex.Lock()
	entry, ok := store.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(store.rps, store.burst)}
		store.entries[key] = entry
	}
	entry.lastSeen = now
	store.mutex.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (store *limiterStore) cleanup(now time.Time) {
	cutoff := now.Add(-store.idleTTL)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for key, entry := range store.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(store.entries, key)
		}
	}
}

func (store *limiterStore) size() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}

// startJanitor drops idle keys until ctx is done.
func (store *limiterStore) startJanitor(ctx context.Context) {
	ticker := time.NewTicker(store.cleanupEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				store.cleanup(now)
			}
		}
	}()
}
