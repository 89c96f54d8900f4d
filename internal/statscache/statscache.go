// Package statscache memoizes remote statistics lookups with bounded
// staleness. Entries are keyed by (short code, date range); an entry older
// than the freshness window is treated as absent. Invalidation is an
// explicit operation tied to the link lifecycle, never only an eviction
// policy.
package statscache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/patric-chuzhbe/vkccbot/internal/logger"
	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

type statsFetcher interface {
	FetchStats(ctx context.Context, shortCode string, dateRange models.DateRange) (models.StatsResult, error)
}

type cacheKey struct {
	code string
	from string
	to   string
}

func newCacheKey(shortCode string, dateRange models.DateRange) cacheKey {
	key := cacheKey{code: shortCode}
	if !dateRange.From.IsZero() {
		key.from = dateRange.From.Format("2006-01-02")
	}
	if !dateRange.To.IsZero() {
		key.to = dateRange.To.Format("2006-01-02")
	}

	return key
}

func (k cacheKey) String() string {
	return strings.Join([]string{k.code, k.from, k.to}, "|")
}

type cacheEntry struct {
	value     models.StatsResult
	fetchedAt time.Time
}

// Cache is a process-wide statistics memo safe for concurrent use.
// Concurrent refreshes of the same key are collapsed into one remote
// call; the first caller to detect staleness performs the refetch.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	fetcher statsFetcher
	window  time.Duration
	group   singleflight.Group
}

// New creates a Cache serving entries younger than the freshness window.
func New(fetcher statsFetcher, window time.Duration) *Cache {
	return &Cache{
		entries: map[cacheKey]cacheEntry{},
		fetcher: fetcher,
		window:  window,
	}
}

func (c *Cache) lookup(key cacheKey) (models.StatsResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.fetchedAt) >= c.window {
		return models.StatsResult{}, false
	}

	return entry.value, true
}

// Get returns the cached value when fresh, otherwise fetches, stores and
// returns the remote result. A failed fetch yields a zero result that is
// not stored.
func (c *Cache) Get(
	ctx context.Context,
	shortCode string,
	dateRange models.DateRange,
) (models.StatsResult, error) {
	key := newCacheKey(shortCode, dateRange)
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if value, ok := c.lookup(key); ok {
			return value, nil
		}

		fetched, err := c.fetcher.FetchStats(ctx, shortCode, dateRange)
		if err != nil {
			// A transient outage must not be remembered as "0 views"
			// for the whole freshness window; serve zero once and let
			// the next call refetch.
			logger.Log.Errorw(
				"statistics fetch failed, serving uncached zero result",
				"shortCode", shortCode,
				"err", err,
			)
			return models.StatsResult{}, nil
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{value: fetched, fetchedAt: time.Now()}
		c.mu.Unlock()

		return fetched, nil
	})
	if err != nil {
		return models.StatsResult{}, err
	}

	return value.(models.StatsResult), nil
}

// Invalidate drops every cached entry of the short code regardless of
// date range. Called when the underlying link is deleted or recreated.
func (c *Cache) Invalidate(shortCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.code == shortCode {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if time.Since(entry.fetchedAt) >= c.window {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// RunJanitor starts a background goroutine that periodically drops
// expired entries so the memo does not grow without bound. It stops when
// the context is canceled.
func (c *Cache) RunJanitor(ctx context.Context, sweepInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.sweep(); removed > 0 {
					logger.Log.Debugf("stats cache janitor removed %d expired entries", removed)
				}
			}
		}
	}()
}
