package capability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"agentconnector/record"
)

// cacheEntry is a bounded mapping value: the capability plus the
// insertion/last-access bookkeeping LRU eviction needs.
type cacheEntry struct {
	capability *Capability
	insertedAt time.Time
	accessedAt time.Time
}

// CacheConfig controls sizing and refresh cadence. Zero values fall back to
// package defaults.
type CacheConfig struct {
	MaxEntries     int
	TTL            time.Duration
	WarmupLimit    int
	RefreshEvery   time.Duration
	RefreshStale   float64 // fraction of TTL past which an entry is due for refresh
	RefreshWorkers int
	RefreshRateHz  float64
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10_000
	}
	if c.TTL <= 0 {
		c.TTL = record.DefaultCacheTTL
	}
	if c.WarmupLimit <= 0 {
		c.WarmupLimit = record.MaxCapabilityWarmup
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = record.DefaultRefreshInterval
	}
	if c.RefreshStale <= 0 {
		c.RefreshStale = record.DefaultRefreshStale
	}
	if c.RefreshWorkers <= 0 {
		c.RefreshWorkers = 8
	}
	if c.RefreshRateHz <= 0 {
		c.RefreshRateHz = 20
	}
	return c
}

type cacheLogger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// Cache is a bounded, concurrency-safe LRU+TTL snapshot of capability
// advertisements with background auto-refresh (spec §4.7). Reads take a
// shared lock; updates to last-access, eviction, and insertion each take a
// short exclusive critical section, matching §5's shared-resource policy.
type Cache struct {
	cfg     CacheConfig
	service *Service
	log     cacheLogger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	hits, misses, refreshes, evictions uint64

	sf       singleflight.Group
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	sweeping atomic.Bool

	instanceLabel string
	prom          *promCacheMetrics
}

var cacheInstanceSeq atomic.Uint64

// NewCache constructs a cache backed by service, performs synchronous
// warm-up (fetching up to cfg.WarmupLimit records), and starts the
// background auto-refresh loop. Call Close to stop the loop.
func NewCache(ctx context.Context, service *Service, cfg CacheConfig, log cacheLogger) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:           cfg,
		service:       service,
		log:           log,
		now:           time.Now,
		entries:       make(map[string]*cacheEntry),
		stop:          make(chan struct{}),
		instanceLabel: fmt.Sprintf("cache-%d", cacheInstanceSeq.Add(1)),
		prom:          promCacheRegistry(),
	}
	c.warmup(ctx)
	c.wg.Add(1)
	go c.refreshLoop()
	return c
}

func (c *Cache) warmup(ctx context.Context) {
	caps, err := c.service.Run(ctx, Query{Limit: c.cfg.WarmupLimit})
	if err != nil {
		c.warn("capability cache warmup failed", "err", err)
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, found := range caps {
		c.entries[found.Pubkey] = &cacheEntry{capability: found, insertedAt: now, accessedAt: now}
	}
}

func (c *Cache) warn(msg string, args ...any) {
	if c.log != nil {
		c.log.Warn(msg, args...)
	}
}

func (c *Cache) info(msg string, args ...any) {
	if c.log != nil {
		c.log.Info(msg, args...)
	}
}

// Get returns the cached capability for pubkey if present and unexpired.
// A hit updates last-access; expiry is checked without mutating the
// mapping otherwise.
func (c *Cache) Get(pubkey string) (*Capability, bool) {
	now := c.now()
	c.mu.RLock()
	entry, ok := c.entries[pubkey]
	c.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		c.prom.misses.WithLabelValues(c.instanceLabel).Inc()
		return nil, false
	}
	if now.Sub(entry.insertedAt) > c.cfg.TTL {
		atomic.AddUint64(&c.misses, 1)
		c.prom.misses.WithLabelValues(c.instanceLabel).Inc()
		return nil, false
	}
	c.mu.Lock()
	entry.accessedAt = now
	c.mu.Unlock()
	atomic.AddUint64(&c.hits, 1)
	c.prom.hits.WithLabelValues(c.instanceLabel).Inc()
	return entry.capability, true
}

// Set inserts or replaces the entry for pubkey, evicting the
// least-recently-accessed entry first if the cache is at capacity.
func (c *Cache) Set(pubkey string, capability *Capability) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[pubkey]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.entries[pubkey] = &cacheEntry{capability: capability, insertedAt: now, accessedAt: now}
	c.prom.size.WithLabelValues(c.instanceLabel).Set(float64(len(c.entries)))
}

// evictLocked removes the entry with the smallest accessedAt. Caller must
// hold c.mu for writing.
func (c *Cache) evictLocked() {
	var victim string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.accessedAt.Before(oldest) {
			victim = k
			oldest = e.accessedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, victim)
		atomic.AddUint64(&c.evictions, 1)
		c.prom.evictions.WithLabelValues(c.instanceLabel).Inc()
	}
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(pubkey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pubkey)
	c.prom.size.WithLabelValues(c.instanceLabel).Set(float64(len(c.entries)))
}

// InvalidateAll clears the table.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.prom.size.WithLabelValues(c.instanceLabel).Set(0)
}

// Refresh forces a single synchronous refresh of pubkey, raising
// CapabilityMissing if the query service finds no record. Concurrent
// refreshes for the same pubkey are serialized via singleflight: the
// second caller observes the first's result instead of issuing its own
// query.
func (c *Cache) Refresh(ctx context.Context, pubkey string) (*Capability, error) {
	v, err, _ := c.sf.Do(pubkey, func() (any, error) {
		caps, err := c.service.Run(ctx, Query{Pubkeys: []string{pubkey}, Limit: 1})
		if err != nil {
			return nil, record.Wrap(record.TransportFailure, err, "refresh query failed")
		}
		if len(caps) == 0 {
			return nil, record.NewError(record.CapabilityMissing, "no capability record found", "pubkey", pubkey)
		}
		c.Set(pubkey, caps[0])
		atomic.AddUint64(&c.refreshes, 1)
		c.prom.refreshCount.WithLabelValues(c.instanceLabel).Inc()
		return caps[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Capability), nil
}

// Metrics returns a point-in-time snapshot of the cache's counters.
func (c *Cache) Metrics() MetricsSnapshot {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return MetricsSnapshot{
		Hits:         atomic.LoadUint64(&c.hits),
		Misses:       atomic.LoadUint64(&c.misses),
		RefreshCount: atomic.LoadUint64(&c.refreshes),
		Evictions:    atomic.LoadUint64(&c.evictions),
		Size:         size,
	}
}

// refreshLoop is the stoppable background sweep described in spec §4.7/§5:
// it must not overlap with itself (a prior sweep still running when the
// timer fires causes that tick to be skipped) and it releases all
// outstanding refresh tasks when stopped.
func (c *Cache) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sweeping.CompareAndSwap(false, true) {
				continue
			}
			c.sweepOnce()
			c.sweeping.Store(false)
		}
	}
}

func (c *Cache) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshEvery)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	now := c.now()
	staleAge := time.Duration(float64(c.cfg.TTL) * c.cfg.RefreshStale)
	c.mu.RLock()
	due := make([]string, 0)
	for pubkey, entry := range c.entries {
		if now.Sub(entry.insertedAt) >= staleAge {
			due = append(due, pubkey)
		}
	}
	c.mu.RUnlock()
	if len(due) == 0 {
		return
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.RefreshRateHz), 1)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.RefreshWorkers)
	for _, pubkey := range due {
		pubkey := pubkey
		group.Go(func() error {
			if err := limiter.Wait(groupCtx); err != nil {
				return nil
			}
			if _, err := c.Refresh(groupCtx, pubkey); err != nil {
				c.warn("capability cache refresh failed", "pubkey", pubkey, "err", err)
			}
			return nil
		})
	}
	_ = group.Wait()
	c.info("capability cache sweep complete", "candidates", len(due))
}

// Close stops the background refresh loop and waits for it to exit.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}
