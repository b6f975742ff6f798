// Package transport defines the three external collaborators the
// coordination and discovery engines speak through: the event store, the
// signer, and the follow-graph router. The core never implements a network
// listener, a database, or a payment rail itself — it only depends on these
// interfaces, which production deployments satisfy with a real relay
// connection, event database, and social graph service.
package transport

import (
	"context"
	"time"

	"agentconnector/record"
)

// Filter selects events from the store. Kinds is required; the remaining
// fields narrow the result set further.
type Filter struct {
	Kinds      map[record.Kind]struct{}
	Authors    map[string]struct{}
	TagFilters map[string]map[string]struct{}
	Limit      int
}

// NewFilter returns a Filter with the given kinds and a nil/empty selection
// for everything else.
func NewFilter(kinds ...record.Kind) Filter {
	set := make(map[record.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return Filter{Kinds: set}
}

// WithAuthors narrows the filter to the given author pubkeys.
func (f Filter) WithAuthors(authors ...string) Filter {
	if len(authors) == 0 {
		return f
	}
	f.Authors = make(map[string]struct{}, len(authors))
	for _, a := range authors {
		f.Authors[a] = struct{}{}
	}
	return f
}

// WithTag adds (or extends) a tag-value filter.
func (f Filter) WithTag(name string, values ...string) Filter {
	if len(values) == 0 {
		return f
	}
	if f.TagFilters == nil {
		f.TagFilters = make(map[string]map[string]struct{})
	}
	set, ok := f.TagFilters[name]
	if !ok {
		set = make(map[string]struct{}, len(values))
		f.TagFilters[name] = set
	}
	for _, v := range values {
		set[v] = struct{}{}
	}
	return f
}

// WithLimit sets the result cap.
func (f Filter) WithLimit(limit int) Filter {
	f.Limit = limit
	return f
}

// EventStore is the read/write collaborator backing capability queries,
// cache warm-up, and result/action publication. Implementations are
// expected to apply Filter server-side where possible; QueryEvents must
// still behave correctly against an implementation that applies it loosely,
// since callers re-filter in memory regardless.
type EventStore interface {
	QueryEvents(ctx context.Context, filter Filter) ([]*record.Record, error)
	StoreEvent(ctx context.Context, rec *record.Record) error
}

// Signer produces and verifies signed records. Sign fills ID (the content
// hash) and Signature on the supplied template; the template's Signature
// field is ignored on input.
type Signer interface {
	Sign(ctx context.Context, template *record.Record, privateKeyHex string) (*record.Record, error)
	Verify(ctx context.Context, rec *record.Record) (bool, error)
}

// Follow describes one edge of the follow graph as reported by the routing
// collaborator.
type Follow struct {
	Pubkey        string
	PaymentAddr   string
	Nickname      string
	RelayHint     string
	AddedAt       time.Time
}

// FollowGraphRouter resolves social edges for discovery. ListFollows
// reports the caller's own outbound edges; LookupByPubkey finds an edge
// some owner recorded pointing at pubkey (used to recover metadata like a
// payment address for a peer discovered by other means); FollowsOf reports
// pubkey's own outbound edges, i.e. "who does pubkey follow" — the forward
// lookup 2-hop expansion needs, as distinct from LookupByPubkey's reverse
// search.
type FollowGraphRouter interface {
	ListFollows(ctx context.Context) ([]Follow, error)
	LookupByPubkey(ctx context.Context, pubkey string) (Follow, bool, error)
	FollowsOf(ctx context.Context, pubkey string) ([]Follow, error)
}
