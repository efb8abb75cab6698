package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/persistorai/queuecall/internal/models"
)

const (
	staffCacheTTL      = 5 * time.Minute
	negativeCacheTTL   = 30 * time.Second
	maxCacheEntries    = 10000
	cacheCleanupPeriod = 60 * time.Second
)

type cachedStaff struct {
	staff     *models.Staff // nil for a cached lookup failure
	fetchedAt time.Time
}

func (cs cachedStaff) ttl() time.Duration {
	if cs.staff == nil {
		return negativeCacheTTL
	}
	return staffCacheTTL
}

// hashKey returns a hex-encoded SHA-256 hash of the token so raw tokens
// are never stored in memory.
func hashKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CachedStaffLookup wraps a StaffLookup with a bounded in-memory cache.
// Concurrent misses for the same token share one lookup.
type CachedStaffLookup struct {
	inner StaffLookup
	mu    sync.RWMutex
	cache map[string]cachedStaff
	group singleflight.Group
}

// NewCachedStaffLookup creates a caching wrapper around the given StaffLookup.
// The provided context controls the lifetime of the background eviction goroutine.
func NewCachedStaffLookup(ctx context.Context, inner StaffLookup) *CachedStaffLookup {
	c := &CachedStaffLookup{
		inner: inner,
		cache: make(map[string]cachedStaff),
	}
	go c.evictLoop(ctx)
	return c
}

func (c *CachedStaffLookup) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired(time.Now())
			c.mu.Unlock()
		}
	}
}

// evictExpired drops stale entries. Caller must hold c.mu.
func (c *CachedStaffLookup) evictExpired(now time.Time) {
	for k, v := range c.cache {
		if now.Sub(v.fetchedAt) >= v.ttl() {
			delete(c.cache, k)
		}
	}
}

// GetStaffByToken returns a cached operator or delegates to the inner lookup.
// Unknown tokens are negatively cached for 30s; other errors are not cached.
func (c *CachedStaffLookup) GetStaffByToken(ctx context.Context, token string) (*models.Staff, error) {
	hk := hashKey(token)

	c.mu.RLock()
	entry, ok := c.cache[hk]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < entry.ttl() {
		if entry.staff == nil {
			return nil, models.ErrStaffNotFound
		}

		out := *entry.staff

		return &out, nil
	}

	v, err, _ := c.group.Do(hk, func() (any, error) {
		staff, err := c.inner.GetStaffByToken(ctx, token)
		if err != nil {
			if errors.Is(err, models.ErrStaffNotFound) {
				c.store(hk, nil)
			}

			return nil, err
		}

		c.store(hk, staff)

		return staff, nil
	})
	if err != nil {
		return nil, err
	}

	staff, _ := v.(*models.Staff)
	out := *staff

	return &out, nil
}

// Invalidate forgets a token so the next lookup reaches the inner store.
func (c *CachedStaffLookup) Invalidate(token string) {
	c.mu.Lock()
	delete(c.cache, hashKey(token))
	c.mu.Unlock()
}

func (c *CachedStaffLookup) store(hk string, staff *models.Staff) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= maxCacheEntries {
		c.evictExpired(time.Now())

		for k := range c.cache {
			if len(c.cache) < maxCacheEntries {
				break
			}
			delete(c.cache, k)
		}
	}

	c.cache[hk] = cachedStaff{staff: staff, fetchedAt: time.Now()}
}
