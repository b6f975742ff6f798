package capability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentconnector/record"
	"agentconnector/transport"
	"agentconnector/transport/memory"
)

// countingStore wraps a memory.Store and counts QueryEvents calls, with an
// optional per-call delay to widen the window for concurrent singleflight
// callers to collide.
type countingStore struct {
	*memory.Store
	queries atomic.Int64
	delay   time.Duration
}

func (s *countingStore) QueryEvents(ctx context.Context, filter transport.Filter) ([]*record.Record, error) {
	s.queries.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.Store.QueryEvents(ctx, filter)
}

func newCacheFixture(t *testing.T) (*countingStore, *memory.Signer, *Service) {
	t.Helper()
	store := &countingStore{Store: memory.NewStore()}
	signer := memory.NewSigner()
	return store, signer, NewService(store, nil)
}

func putCapability(t *testing.T, store *countingStore, signer *memory.Signer, id string) *Capability {
	t.Helper()
	key := mustGenerateKey(t)
	signer.RegisterKey(key)
	rec := signCapability(t, signer, key, id, []int{5910}, AgentDVM, "ilp.example/"+id, nil, nil)
	if err := store.StoreEvent(context.Background(), rec); err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}
	cap, err := ParseCapability(rec)
	if err != nil {
		t.Fatalf("ParseCapability: %v", err)
	}
	return cap
}

func disabledCache(svc *Service) *Cache {
	c := &Cache{
		cfg:     CacheConfig{MaxEntries: 10_000, TTL: record.DefaultCacheTTL, RefreshWorkers: 1, RefreshRateHz: 1}.withDefaults(),
		service: svc,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
		stop:    make(chan struct{}),
		prom:    promCacheRegistry(),
	}
	return c
}

func TestCacheGetMissThenSetThenHit(t *testing.T) {
	store, signer, svc := newCacheFixture(t)
	cache := disabledCache(svc)
	cap := putCapability(t, store, signer, "p1")

	if _, ok := cache.Get(cap.Pubkey); ok {
		t.Fatal("Get on empty cache returned a hit")
	}
	cache.Set(cap.Pubkey, cap)
	got, ok := cache.Get(cap.Pubkey)
	if !ok || got != cap {
		t.Fatalf("Get after Set = (%+v, %v), want the inserted capability", got, ok)
	}
	snap := cache.Metrics()
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Fatalf("Metrics = %+v, want 1 hit and 1 miss", snap)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	store, signer, svc := newCacheFixture(t)
	cache := disabledCache(svc)
	cache.cfg.TTL = time.Minute
	cap := putCapability(t, store, signer, "p1")

	start := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return start }
	cache.Set(cap.Pubkey, cap)

	cache.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, ok := cache.Get(cap.Pubkey); ok {
		t.Fatal("Get returned a hit for an entry past its TTL")
	}
}

func TestCacheLRUEvictionUnderCapacity(t *testing.T) {
	store, signer, svc := newCacheFixture(t)
	cache := disabledCache(svc)
	cache.cfg.MaxEntries = 2

	p1 := putCapability(t, store, signer, "p1")
	p2 := putCapability(t, store, signer, "p2")
	p3 := putCapability(t, store, signer, "p3")

	base := time.Unix(1_700_000_000, 0)
	tick := 0
	cache.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	cache.Set(p1.Pubkey, p1) // inserted at t=1
	cache.Set(p2.Pubkey, p2) // inserted at t=2
	if _, ok := cache.Get(p1.Pubkey); !ok {
		t.Fatal("Get(p1) miss before eviction round")
	} // p1 accessed at t=3, now the most-recently-used

	cache.Set(p3.Pubkey, p3) // at capacity: evicts p2 (oldest accessedAt)

	if _, ok := cache.Get(p1.Pubkey); !ok {
		t.Fatal("p1 should still be cached (recently accessed)")
	}
	if _, ok := cache.Get(p3.Pubkey); !ok {
		t.Fatal("p3 should be cached (just inserted)")
	}
	if _, ok := cache.Get(p2.Pubkey); ok {
		t.Fatal("p2 should have been evicted")
	}
	snap := cache.Metrics()
	if snap.Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", snap.Evictions)
	}
	if snap.Size != 2 {
		t.Fatalf("Size = %d, want 2", snap.Size)
	}
}

func TestCacheRefreshMissingPubkeyReturnsCapabilityMissing(t *testing.T) {
	_, _, svc := newCacheFixture(t)
	cache := disabledCache(svc)

	_, err := cache.Refresh(context.Background(), "deadbeef")
	var recErr *record.Error
	if !errors.As(err, &recErr) || recErr.Kind != record.CapabilityMissing {
		t.Fatalf("Refresh of unknown pubkey = %v, want CapabilityMissing", err)
	}
}

func TestCacheRefreshConcurrentCallsAreSingleflighted(t *testing.T) {
	store, signer, svc := newCacheFixture(t)
	store.delay = 20 * time.Millisecond
	cache := disabledCache(svc)
	cap := putCapability(t, store, signer, "p1")

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Capability, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Refresh(context.Background(), cap.Pubkey)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Refresh[%d]: %v", i, err)
		}
		if results[i].Pubkey != cap.Pubkey {
			t.Fatalf("Refresh[%d] returned wrong capability", i)
		}
	}
	if got := store.queries.Load(); got >= n {
		t.Fatalf("QueryEvents called %d times for %d concurrent identical refreshes, want fewer than %d (singleflight)", got, n, n)
	}
}
