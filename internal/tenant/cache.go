// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// DefaultCacheCapacity bounds the number of cached contexts.
const DefaultCacheCapacity = 10000

// ContextResolver computes a fresh tenant context. *Resolver implements it.
type ContextResolver interface {
	Resolve(ctx context.Context, userID, preferredLocationID string) (models.TenantContext, error)
}

// CacheKey identifies one cached context. An empty PreferredLocationID is
// the "no preference" entry.
type CacheKey struct {
	UserID              string
	PreferredLocationID string
}

func (k CacheKey) String() string {
	if k.PreferredLocationID == "" {
		return k.UserID + "|none"
	}
	return k.UserID + "|" + k.PreferredLocationID
}

// CacheStats is a point-in-time view of the cache counters.
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Invalidations int64   `json:"invalidations"`
	Evictions     int64   `json:"evictions"`
	Size          int     `json:"size"`
	HitRate       float64 `json:"hit_rate"`
}

// CacheOptions configures NewCache.
type CacheOptions struct {
	Capacity int

	// TTL expires entries lazily; zero keeps them until invalidated or evicted.
	TTL time.Duration

	Clock     func() time.Time
	Publisher events.Publisher
}

// CacheOptionsFromConfig maps the tenant config section.
func CacheOptionsFromConfig(cfg *config.TenantConfig) CacheOptions {
	if cfg == nil {
		return CacheOptions{}
	}
	return CacheOptions{Capacity: cfg.CacheCapacity, TTL: cfg.CacheTTL}
}

// cacheEntry is a node of the recency list; head.next is the most recently used.
type cacheEntry struct {
	key       CacheKey
	value     models.TenantContext
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// Cache fronts a ContextResolver with a per-user, invalidate-on-write LRU
// cache. Entries are keyed by user and preference, so a lookup can only
// ever return a context that was computed for that same user.
type Cache struct {
	resolver  ContextResolver
	capacity  int
	ttl       time.Duration
	now       func() time.Time
	publisher events.Publisher
	security  *logging.SecurityLogger

	mu     sync.RWMutex
	items  map[CacheKey]*cacheEntry
	byUser map[string]map[CacheKey]struct{}
	head   *cacheEntry
	tail   *cacheEntry

	// gens and epoch fence fills started before an Invalidate or Clear.
	gens  map[string]uint64
	epoch uint64

	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	evictions     atomic.Int64
}

// NewCache creates the process-wide tenant cache.
func NewCache(resolver ContextResolver, opts CacheOptions) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCacheCapacity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	c := &Cache{
		resolver:  resolver,
		capacity:  opts.Capacity,
		ttl:       opts.TTL,
		now:       opts.Clock,
		publisher: opts.Publisher,
		security:  logging.NewSecurityLogger(),
		head:      &cacheEntry{},
		tail:      &cacheEntry{},
	}
	c.reset()
	return c
}

// generation identifies the invalidation state of one user.
type generation struct {
	epoch uint64
	user  uint64
}

// Get returns the cached context or resolves, caches and returns a fresh one.
// Resolution errors are never cached. A resolution that overlaps an
// Invalidate or Clear of the user is returned but not cached.
func (c *Cache) Get(ctx context.Context, userID, preferredLocationID string) (models.TenantContext, error) {
	if tc, ok := c.Peek(userID, preferredLocationID); ok {
		return tc, nil
	}

	gen := c.generationOf(userID)
	tc, err := c.resolver.Resolve(ctx, userID, preferredLocationID)
	if err != nil {
		return models.TenantContext{}, err
	}
	if !c.put(userID, preferredLocationID, tc, &gen) {
		logging.Ctx(ctx).Debug().
			Str("user_id", logging.SanitizeUserID(userID)).
			Msg("Discarded tenant context resolved across an invalidation")
	}
	return tc.Clone(), nil
}

// Peek looks up an entry without resolving. It counts hits and misses.
func (c *Cache) Peek(userID, preferredLocationID string) (models.TenantContext, bool) {
	key := CacheKey{UserID: userID, PreferredLocationID: preferredLocationID}

	c.mu.Lock()
	e, ok := c.items[key]
	if ok && c.expired(e) {
		c.removeLocked(e)
		c.evictions.Add(1)
		metrics.TenantCacheEvictions.Inc()
		ok = false
	}
	var tc models.TenantContext
	if ok {
		c.moveToFront(e)
		tc = e.value.Clone()
	}
	size := len(c.items)
	c.mu.Unlock()

	metrics.TenantCacheEntries.Set(float64(size))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	metrics.RecordCacheLookup(ok)
	return tc, ok
}

// Set stores a snapshot of tc, replacing any previous entry.
func (c *Cache) Set(userID, preferredLocationID string, tc models.TenantContext) {
	c.put(userID, preferredLocationID, tc, nil)
}

// put stores tc unless want is set and the user's generation moved on.
func (c *Cache) put(userID, preferredLocationID string, tc models.TenantContext, want *generation) bool {
	key := CacheKey{UserID: userID, PreferredLocationID: preferredLocationID}
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	if want != nil && *want != c.currentLocked(userID) {
		c.mu.Unlock()
		return false
	}
	if e, ok := c.items[key]; ok {
		e.value = tc.Clone()
		e.expiresAt = expiresAt
		c.moveToFront(e)
	} else {
		e := &cacheEntry{key: key, value: tc.Clone(), expiresAt: expiresAt}
		c.addToFront(e)
		c.items[key] = e
		keys, ok := c.byUser[userID]
		if !ok {
			keys = make(map[CacheKey]struct{})
			c.byUser[userID] = keys
		}
		keys[key] = struct{}{}
	}
	for len(c.items) > c.capacity {
		c.removeLocked(c.tail.prev)
		c.evictions.Add(1)
		metrics.TenantCacheEvictions.Inc()
	}
	size := len(c.items)
	c.mu.Unlock()

	c.sets.Add(1)
	metrics.TenantCacheSets.Inc()
	metrics.TenantCacheEntries.Set(float64(size))
	return true
}

func (c *Cache) generationOf(userID string) generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked(userID)
}

// Invalidate drops every entry of userID and returns how many were removed.
func (c *Cache) Invalidate(userID string) int {
	c.mu.Lock()
	c.gens[userID]++
	removed := 0
	for key := range c.byUser[userID] {
		if e, ok := c.items[key]; ok {
			c.removeLocked(e)
			removed++
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	c.invalidations.Add(1)
	metrics.TenantCacheInvalidations.Inc()
	metrics.TenantCacheEntries.Set(float64(size))
	return removed
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.items)
	c.reset()
	c.epoch++
	c.mu.Unlock()

	metrics.TenantCacheEntries.Set(0)
	return n
}

// Stats returns the counters and current size.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()

	s := CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Size:          size,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Keys returns the cached keys of userID.
func (c *Cache) Keys(userID string) []CacheKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CacheKey, 0, len(c.byUser[userID]))
	for key := range c.byUser[userID] {
		out = append(out, key)
	}
	return out
}

// ValidateTenantIntegrity re-resolves every cached context of userID from
// the source of truth and compares groups. Any mismatch is reported as a
// contamination security event and makes the result false; the entry is
// left in place for the caller to deal with. Store failures are returned
// as errors.
func (c *Cache) ValidateTenantIntegrity(ctx context.Context, userID string) (bool, error) {
	type snapshot struct {
		key   CacheKey
		value models.TenantContext
	}

	c.mu.RLock()
	snaps := make([]snapshot, 0, len(c.byUser[userID]))
	for key := range c.byUser[userID] {
		if e, ok := c.items[key]; ok {
			snaps = append(snaps, snapshot{key: key, value: e.value.Clone()})
		}
	}
	c.mu.RUnlock()

	valid := true
	for _, s := range snaps {
		observed := s.value.Group.ID
		if s.value.ActiveLocation.GroupID != observed {
			observed = s.value.ActiveLocation.GroupID
		}

		fresh, err := c.resolver.Resolve(ctx, userID, s.key.PreferredLocationID)
		switch {
		case err == nil:
			if fresh.Group.ID == observed && fresh.Group.ID == s.value.Group.ID {
				continue
			}
			c.contaminated(ctx, userID, fresh.Group.ID, observed, s.key)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrEmpty):
			c.contaminated(ctx, userID, "", observed, s.key)
		default:
			return false, err
		}
		valid = false
	}
	return valid, nil
}

func (c *Cache) contaminated(ctx context.Context, userID, expected, observed string, key CacheKey) {
	c.security.LogContamination(userID, expected, observed, key.String())
	metrics.TenantContaminations.Inc()
	events.PublishBestEffort(ctx, c.publisher, events.TopicSecurity, events.SecurityAlert{
		Event:           logging.EventTenantContamination,
		UserID:          userID,
		ExpectedGroupID: expected,
		ObservedGroupID: observed,
		At:              c.now().UTC(),
	})
}

// Internal methods (must be called with c.mu held)

func (c *Cache) reset() {
	c.items = make(map[CacheKey]*cacheEntry)
	c.byUser = make(map[string]map[CacheKey]struct{})
	c.gens = make(map[string]uint64)
	c.head.next = c.tail
	c.tail.prev = c.head
}

func (c *Cache) currentLocked(userID string) generation {
	return generation{epoch: c.epoch, user: c.gens[userID]}
}

func (c *Cache) expired(e *cacheEntry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Cache) addToFront(e *cacheEntry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) moveToFront(e *cacheEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *Cache) removeLocked(e *cacheEntry) {
	if e == c.head || e == c.tail {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
	if keys, ok := c.byUser[e.key.UserID]; ok {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.byUser, e.key.UserID)
		}
	}
}
