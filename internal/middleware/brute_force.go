package middleware

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/clock"
)

const (
	bruteForceMaxAttempts = 5
	bruteForceWindow      = 15 * time.Minute
	bruteForceLockout     = 5 * time.Minute
	bruteForceCleanup     = 60 * time.Second
	bruteForceMaxRecords  = 10000
)

type failureRecord struct {
	attempts  int
	firstFail time.Time
	lockedAt  time.Time
}

// BruteForceGuard tracks failed staff token attempts by token hash and locks
// out tokens that fail too often within the tracking window.
type BruteForceGuard struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	clock   clock.Clock
	log     *logrus.Logger
}

// NewBruteForceGuard creates a guard. When ctx is non-nil a cleanup
// goroutine runs until it is cancelled.
func NewBruteForceGuard(ctx context.Context, clk clock.Clock, log *logrus.Logger) *BruteForceGuard {
	g := &BruteForceGuard{
		records: make(map[string]*failureRecord),
		clock:   clk,
		log:     log,
	}

	if ctx != nil {
		go g.cleanupLoop(ctx)
	}

	return g
}

// IsBlocked reports whether token is currently locked out.
func (g *BruteForceGuard) IsBlocked(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[hashKey(token)]
	if !ok || rec.lockedAt.IsZero() {
		return false
	}

	return g.clock.Now().Sub(rec.lockedAt) < bruteForceLockout
}

// RecordFailure counts a failed authentication attempt for token.
func (g *BruteForceGuard) RecordFailure(token string) {
	kh := hashKey(token)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[kh]
	if !ok || now.Sub(rec.firstFail) > bruteForceWindow {
		g.records[kh] = &failureRecord{attempts: 1, firstFail: now}
		return
	}

	rec.attempts++
	if rec.attempts >= bruteForceMaxAttempts && rec.lockedAt.IsZero() {
		rec.lockedAt = now
		g.log.WithField("key_hash", kh[:16]+"...").Warn("staff token locked out after repeated failures")
	}
}

// ResetKey clears failure tracking after a successful authentication.
func (g *BruteForceGuard) ResetKey(token string) {
	g.mu.Lock()
	delete(g.records, hashKey(token))
	g.mu.Unlock()
}

func (g *BruteForceGuard) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(bruteForceCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep removes expired lockouts and stale windows, then caps the table.
func (g *BruteForceGuard) sweep() {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, rec := range g.records {
		switch {
		case !rec.lockedAt.IsZero() && now.Sub(rec.lockedAt) >= bruteForceLockout:
			delete(g.records, k)
		case rec.lockedAt.IsZero() && now.Sub(rec.firstFail) >= bruteForceWindow:
			delete(g.records, k)
		}
	}

	if excess := len(g.records) - bruteForceMaxRecords; excess > 0 {
		g.evictOldest(excess)
	}
}

// evictOldest removes the n records with the oldest first failure.
// Caller must hold g.mu.
func (g *BruteForceGuard) evictOldest(n int) {
	keys := make([]string, 0, len(g.records))
	for k := range g.records {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		return g.records[keys[i]].firstFail.Before(g.records[keys[j]].firstFail)
	})

	for _, k := range keys[:n] {
		delete(g.records, k)
	}
}

// Len returns the number of tracked tokens.
func (g *BruteForceGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.records)
}

// BruteForceMiddleware rejects requests carrying a locked-out token.
func BruteForceMiddleware(guard *BruteForceGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearerToken(c)
		if token != "" && guard.IsBlocked(token) {
			respondError(c, http.StatusTooManyRequests, "rate_limited", "too many failed authentication attempts")
			return
		}

		c.Next()
	}
}
