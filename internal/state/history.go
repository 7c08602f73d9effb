package state

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type cachedHistory struct {
	turns []Turn
	limit int
}

// HistoryCache keeps recent session history in memory so a chat turn does not re-read
// the database. Entries are dropped on write and expire after the TTL.
type HistoryCache struct {
	store *Store
	cache *ttlcache.Cache[string, cachedHistory]
	load  func(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// writes counts Saves. A read only fills the cache if no Save landed while it was
	// reading, so an invalidation is never overwritten by older rows.
	mu     sync.Mutex
	writes uint64
}

// NewHistoryCache creates a cache in front of store.
func NewHistoryCache(store *Store, ttl time.Duration) *HistoryCache {
	c := ttlcache.New[string, cachedHistory](
		ttlcache.WithTTL[string, cachedHistory](ttl),
		ttlcache.WithDisableTouchOnHit[string, cachedHistory](),
	)
	go c.Start()
	return &HistoryCache{store: store, cache: c, load: store.History}
}

// Close stops the cache expiration loop.
func (h *HistoryCache) Close() {
	h.cache.Stop()
}

// History returns up to limit recent turns for sessionID, oldest first.
func (h *HistoryCache) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	if item := h.cache.Get(sessionID); item != nil {
		entry := item.Value()
		if entry.limit >= limit {
			turns := entry.turns
			if len(turns) > limit {
				turns = turns[len(turns)-limit:]
			}
			return turns, nil
		}
	}

	h.mu.Lock()
	seen := h.writes
	h.mu.Unlock()

	turns, err := h.load(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.writes == seen {
		h.cache.Set(sessionID, cachedHistory{turns: turns, limit: limit}, ttlcache.DefaultTTL)
	}
	h.mu.Unlock()
	return turns, nil
}

// Save persists a turn and invalidates the session's cached history.
func (h *HistoryCache) Save(ctx context.Context, t Turn) error {
	if err := h.store.SaveConversation(ctx, t); err != nil {
		return err
	}
	h.mu.Lock()
	h.writes++
	h.cache.Delete(t.SessionID)
	h.mu.Unlock()
	return nil
}

// Len returns the number of cached sessions.
func (h *HistoryCache) Len() int {
	return h.cache.Len()
}
