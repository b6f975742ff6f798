package social

import (
	"context"
	"fmt"
	"testing"

	"agentconnector/capability"
	"agentconnector/crypto"
	"agentconnector/record"
	"agentconnector/transport"
	"agentconnector/transport/memory"
)

// fakeRouter simulates a follow-graph router whose FollowsOf answers "who
// does this pubkey follow" with a single edge, the way a kind-3
// follow-list-backed router would, and whose ListFollows can be made to
// fail after a set number of calls.
type fakeRouter struct {
	direct    []transport.Follow
	indirect  map[string]transport.Follow // pubkey -> the one peer it follows
	callCount int
	failAfter int // ListFollows fails once callCount exceeds this; 0 disables
}

func (r *fakeRouter) ListFollows(ctx context.Context) ([]transport.Follow, error) {
	r.callCount++
	if r.failAfter > 0 && r.callCount > r.failAfter {
		return nil, fmt.Errorf("fakeRouter: simulated relay failure")
	}
	return r.direct, nil
}

// LookupByPubkey is the reverse lookup: it finds an edge some owner
// recorded pointing at pubkey, searching across every owner's list.
func (r *fakeRouter) LookupByPubkey(ctx context.Context, pubkey string) (transport.Follow, bool, error) {
	for _, f := range r.indirect {
		if f.Pubkey == pubkey {
			return f, true, nil
		}
	}
	return transport.Follow{}, false, nil
}

// FollowsOf is the forward lookup: pubkey's own outbound edges.
func (r *fakeRouter) FollowsOf(ctx context.Context, pubkey string) ([]transport.Follow, error) {
	f, ok := r.indirect[pubkey]
	if !ok {
		return nil, nil
	}
	return []transport.Follow{f}, nil
}

func mustGenerateKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func publishCapability(t *testing.T, store *memory.Store, signer *memory.Signer, key *crypto.PrivateKey, kind int) {
	t.Helper()
	signer.RegisterKey(key)
	tags := []record.Tag{
		{record.TagID, "cap-" + key.PublicKeyHex()[:8]},
		{record.TagILPAddress, "ilp.example/" + key.PublicKeyHex()[:8]},
		{record.TagAgentType, "assistant"},
		{record.TagKind, fmt.Sprintf("%d", kind)},
	}
	template := &record.Record{AuthorPub: key.PublicKeyHex(), Kind: record.KindCapability, Tags: tags}
	signed, err := signer.Sign(context.Background(), template, key.SeedHex())
	if err != nil {
		t.Fatalf("sign capability: %v", err)
	}
	if err := store.StoreEvent(context.Background(), signed); err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}
}

func newDiscoveryFixture(t *testing.T) (*memory.Store, *memory.Signer, *capability.Service) {
	t.Helper()
	store := memory.NewStore()
	signer := memory.NewSigner()
	return store, signer, capability.NewService(store, nil)
}

const requiredKind = 31991

func TestDiscoverForKindOneHop(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	peer := mustGenerateKey(t)
	publishCapability(t, store, signer, peer, requiredKind)

	router := &fakeRouter{direct: []transport.Follow{{Pubkey: peer.PublicKeyHex(), PaymentAddr: "ilp.example/peer"}}}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Pubkey != peer.PublicKeyHex() || results[0].SocialDistance != 1 {
		t.Fatalf("results[0] = %+v, want peer at distance 1", results[0])
	}
}

func TestDiscoverForKindSelfExcluded(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	publishCapability(t, store, signer, self, requiredKind)

	router := &fakeRouter{direct: []transport.Follow{{Pubkey: self.PublicKeyHex()}}}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0 (self must never appear)", len(results))
	}
}

func TestDiscoverForKindTwoHopExpansion(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	friend := mustGenerateKey(t)
	friendOfFriend := mustGenerateKey(t)
	publishCapability(t, store, signer, friendOfFriend, requiredKind)

	router := &fakeRouter{
		direct: []transport.Follow{{Pubkey: friend.PublicKeyHex()}},
		indirect: map[string]transport.Follow{
			friend.PublicKeyHex(): {Pubkey: friendOfFriend.PublicKeyHex(), PaymentAddr: "ilp.example/fof"},
		},
	}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{ExtendedHops: true}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (friend has no matching capability, friend-of-friend does)", len(results))
	}
	if results[0].Pubkey != friendOfFriend.PublicKeyHex() || results[0].SocialDistance != 2 {
		t.Fatalf("results[0] = %+v, want friend-of-friend at distance 2", results[0])
	}
}

func TestDiscoverForKindWithoutExtendedHopsSkipsTwoHop(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	friend := mustGenerateKey(t)
	friendOfFriend := mustGenerateKey(t)
	publishCapability(t, store, signer, friendOfFriend, requiredKind)

	router := &fakeRouter{
		direct: []transport.Follow{{Pubkey: friend.PublicKeyHex()}},
		indirect: map[string]transport.Follow{
			friend.PublicKeyHex(): {Pubkey: friendOfFriend.PublicKeyHex()},
		},
	}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{ExtendedHops: false}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0 (ExtendedHops disabled)", len(results))
	}
}

func TestDiscoverForKindDegradesToOneHopOnTwoHopError(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	peer := mustGenerateKey(t)
	publishCapability(t, store, signer, peer, requiredKind)

	router := &fakeRouter{
		direct:    []transport.Follow{{Pubkey: peer.PublicKeyHex(), PaymentAddr: "ilp.example/peer"}},
		failAfter: 1, // first ListFollows (1-hop) succeeds, the 2-hop call fails
	}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{ExtendedHops: true}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind should degrade rather than return an error: %v", err)
	}
	if len(results) != 1 || results[0].Pubkey != peer.PublicKeyHex() {
		t.Fatalf("results = %+v, want the 1-hop peer despite the 2-hop failure", results)
	}
}

func TestDiscoverForKindLimitTruncates(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	peerA := mustGenerateKey(t)
	peerB := mustGenerateKey(t)
	publishCapability(t, store, signer, peerA, requiredKind)
	publishCapability(t, store, signer, peerB, requiredKind)

	router := &fakeRouter{direct: []transport.Follow{{Pubkey: peerA.PublicKeyHex()}, {Pubkey: peerB.PublicKeyHex()}}}
	d := NewDiscovery(router, svc, nil, 0)

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{Limit: 1}, nil)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (Limit enforced)", len(results))
	}
}

// fakeCache is a minimal cacheGetter double that records whether it was
// consulted, for asserting UseCache wiring without pulling in the real
// capability.Cache's background refresh loop.
type fakeCache struct {
	entries map[string]*capability.Capability
	gets    int
	sets    int
}

func (c *fakeCache) Get(pubkey string) (*capability.Capability, bool) {
	c.gets++
	cap, ok := c.entries[pubkey]
	return cap, ok
}

func (c *fakeCache) Set(pubkey string, cap *capability.Capability) {
	c.sets++
	if c.entries == nil {
		c.entries = make(map[string]*capability.Capability)
	}
	c.entries[pubkey] = cap
}

func TestDiscoverForKindPopulatesCacheOnMiss(t *testing.T) {
	store, signer, svc := newDiscoveryFixture(t)
	self := mustGenerateKey(t)
	peer := mustGenerateKey(t)
	publishCapability(t, store, signer, peer, requiredKind)

	router := &fakeRouter{direct: []transport.Follow{{Pubkey: peer.PublicKeyHex()}}}
	d := NewDiscovery(router, svc, nil, 0)
	cache := &fakeCache{}

	results, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{UseCache: true}, cache)
	if err != nil {
		t.Fatalf("DiscoverForKind: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if cache.sets != 1 {
		t.Fatalf("cache.sets = %d, want 1 (miss should populate the cache)", cache.sets)
	}

	if _, err := d.DiscoverForKind(context.Background(), self.PublicKeyHex(), requiredKind, Options{UseCache: true}, cache); err != nil {
		t.Fatalf("DiscoverForKind (second call): %v", err)
	}
	if cache.gets < 2 {
		t.Fatalf("cache.gets = %d, want at least 2 (second call should hit the warmed cache)", cache.gets)
	}
}
