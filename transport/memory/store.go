// Package memory implements an in-process EventStore, Signer, and
// FollowGraphRouter for tests and for cmd/agentd's default configuration.
// It is a reference adapter, not a production relay client: a real
// deployment swaps these for a websocket/database-backed implementation
// (see transport/wsrelay) while the coordination and capability engines
// stay untouched.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agentconnector/crypto"
	"agentconnector/record"
	"agentconnector/transport"
)

// Store is a concurrency-safe in-memory event log. Reads take a shared
// lock; StoreEvent takes an exclusive lock for the append plus the
// replaceable-kind bookkeeping.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*record.Record
	order   []string
	latest  map[string]*record.Record // key: author|d, for replaceable kinds
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*record.Record),
		latest: make(map[string]*record.Record),
	}
}

func replaceableKey(authorPub, d string) string {
	return authorPub + "|" + d
}

func isReplaceable(kind record.Kind) bool {
	return kind == record.KindCapability
}

// StoreEvent appends rec to the log. For replaceable kinds (capability
// advertisements), only the greatest created_at per (author, d) is kept
// queryable, per the record invariant in spec §3.2.
func (s *Store) StoreEvent(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return fmt.Errorf("memory: nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	if isReplaceable(rec.Kind) {
		d, _ := rec.FirstTag(record.TagID)
		key := replaceableKey(rec.AuthorPub, d.Value(1))
		if cur, ok := s.latest[key]; !ok || rec.CreatedAt >= cur.CreatedAt {
			s.latest[key] = rec
		}
	}
	return nil
}

// QueryEvents returns records matching filter, most recently stored first.
// Replaceable kinds are deduplicated to their authoritative replica before
// filtering.
func (s *Store) QueryEvents(ctx context.Context, filter transport.Filter) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*record.Record, 0, len(s.order))
	seenReplaceable := make(map[string]bool)
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.byID[s.order[i]]
		if rec == nil {
			continue
		}
		if isReplaceable(rec.Kind) {
			d, _ := rec.FirstTag(record.TagID)
			key := replaceableKey(rec.AuthorPub, d.Value(1))
			if latest := s.latest[key]; latest != nil && latest.ID != rec.ID {
				continue
			}
			if seenReplaceable[key] {
				continue
			}
			seenReplaceable[key] = true
		}
		candidates = append(candidates, rec)
	}

	out := make([]*record.Record, 0, len(candidates))
	for _, rec := range candidates {
		if !matchesFilter(rec, filter) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(rec *record.Record, filter transport.Filter) bool {
	if len(filter.Kinds) > 0 {
		if _, ok := filter.Kinds[rec.Kind]; !ok {
			return false
		}
	}
	if len(filter.Authors) > 0 {
		if _, ok := filter.Authors[rec.AuthorPub]; !ok {
			return false
		}
	}
	for name, values := range filter.TagFilters {
		matched := false
		for _, tag := range rec.AllTags(name) {
			for i := 1; i < len(tag); i++ {
				if _, ok := values[tag[i]]; ok {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Signer signs templates with the ed25519 private key passed to Sign and
// verifies against the embedded author_pubkey.
type Signer struct {
	mu   sync.RWMutex
	keys map[string]*crypto.PrivateKey
}

// NewSigner returns a signer with no registered keys.
func NewSigner() *Signer {
	return &Signer{keys: make(map[string]*crypto.PrivateKey)}
}

// RegisterKey records a private key under its public hex. Sign and Verify
// do not look keys up in this table.
func (s *Signer) RegisterKey(key *crypto.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.PublicKeyHex()] = key
}

// Sign fills ID and Signature on template using the private key decoded
// from privateKeyHex. An empty template.AuthorPub is set to that key's
// public hex; a different non-empty one is rejected.
func (s *Signer) Sign(ctx context.Context, template *record.Record, privateKeyHex string) (*record.Record, error) {
	key, err := crypto.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("memory: sign: %w", err)
	}
	if template.AuthorPub == "" {
		template.AuthorPub = key.PublicKeyHex()
	}
	if template.AuthorPub != key.PublicKeyHex() {
		return nil, fmt.Errorf("memory: sign: private key does not match author_pubkey")
	}
	if template.CreatedAt == 0 {
		template.CreatedAt = time.Now().UTC().Unix()
	}
	canon := record.CanonicalBytes(template)
	template.ID = crypto.ContentHash(canon)
	sig := key.Sign(canon)
	template.Signature = fmt.Sprintf("%x", sig)
	s.RegisterKey(key)
	return template, nil
}

// Verify checks rec.Signature against rec.AuthorPub over the canonical
// serialization, and that rec.ID matches the content hash.
func (s *Signer) Verify(ctx context.Context, rec *record.Record) (bool, error) {
	canon := record.CanonicalBytes(rec)
	if rec.ID != crypto.ContentHash(canon) {
		return false, nil
	}
	sig, err := hexDecode(rec.Signature)
	if err != nil {
		return false, nil
	}
	return crypto.Verify(rec.AuthorPub, canon, sig), nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexDigit(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}

// FollowGraph is a static, in-memory follow-graph router keyed by pubkey.
// The §6 interface exposes ListFollows with no owner argument, so a single
// viewer identity is designated at construction; cmd/agentd wires this to
// its coordinator's own pubkey.
type FollowGraph struct {
	mu      sync.RWMutex
	viewer  string
	follows map[string][]transport.Follow // owner pubkey -> its outbound follows
}

// NewFollowGraph returns an empty follow graph whose ListFollows reports
// viewer's outbound edges.
func NewFollowGraph(viewer string) *FollowGraph {
	return &FollowGraph{viewer: viewer, follows: make(map[string][]transport.Follow)}
}

// SetFollows replaces the outbound follow list for owner.
func (g *FollowGraph) SetFollows(owner string, follows []transport.Follow) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]transport.Follow, len(follows))
	copy(cp, follows)
	sort.Slice(cp, func(i, j int) bool { return cp[i].AddedAt.Before(cp[j].AddedAt) })
	g.follows[owner] = cp
}

// ListFollows returns the viewer's own outbound follow edges.
func (g *FollowGraph) ListFollows(ctx context.Context) ([]transport.Follow, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]transport.Follow(nil), g.follows[g.viewer]...), nil
}

// LookupByPubkey returns the first follow edge matching pubkey across all
// owners' lists, or false if pubkey is never followed. This is a reverse
// lookup ("who follows pubkey"); use FollowsOf for the forward direction.
func (g *FollowGraph) LookupByPubkey(ctx context.Context, pubkey string) (transport.Follow, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, list := range g.follows {
		for _, f := range list {
			if f.Pubkey == pubkey {
				return f, true, nil
			}
		}
	}
	return transport.Follow{}, false, nil
}

// FollowsOf returns pubkey's own outbound follow edges, i.e. the forward
// direction ("who does pubkey follow"), as populated by SetFollows(pubkey,
// ...). Unknown pubkeys report an empty list rather than an error.
func (g *FollowGraph) FollowsOf(ctx context.Context, pubkey string) ([]transport.Follow, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]transport.Follow(nil), g.follows[pubkey]...), nil
}
