// Package record defines the wire-level signed record shared by every
// coordination and capability object: event kind numbers, tag names,
// security bounds, and the immutable Record type itself.
package record

import "time"

// Kind enumerates the event kinds this connector understands. Unknown kinds
// pass through the transport untouched; only these four are parsed here.
type Kind int

const (
	// KindProposal identifies a coordination proposal authored by a
	// coordinator (spec §3.1).
	KindProposal Kind = 5910
	// KindVote identifies a participant's ballot on a proposal.
	KindVote Kind = 6910
	// KindResult identifies the coordinator's signed outcome record.
	KindResult Kind = 7910
	// KindCapability identifies a replaceable capability advertisement.
	KindCapability Kind = 31990
)

// Tag names used across the four record kinds. Ordering within a record's
// Tags slice is normative per spec §6's wire-format table.
const (
	TagID           = "d"
	TagType         = "type"
	TagParticipant  = "p"
	TagThreshold    = "threshold"
	TagQuorum       = "quorum"
	TagExpires      = "expires"
	TagAction       = "action"
	TagWeight       = "weight"
	TagStake        = "stake"
	TagEvent        = "e"
	TagVote         = "vote"
	TagReason       = "reason"
	TagRank         = "rank"
	TagOutcome      = "outcome"
	TagVotes        = "votes"
	TagParticipants = "participants"
	TagKind         = "k"
	TagNIP          = "nip"
	TagILPAddress   = "ilp-address"
	TagAgentType    = "agent-type"
	TagPricing      = "pricing"
	TagCapacity     = "capacity"
	TagModel        = "model"
	TagSkills       = "skills"
)

// MarkerProposal and MarkerVote are the values carried by an "e" tag's
// marker slot (the third element), distinguishing a reference to the
// proposal event from a reference to a counted vote event.
const (
	MarkerProposal = "proposal"
	MarkerVote     = "vote"
)

// Normative numeric and string limits (spec §6).
const (
	PubkeyHexLen           = 64
	ProposalIDHexLen       = 32
	MaxParticipants        = 1000
	MaxWeightValue         = 1_000_000_000
	MaxActionDataBytes     = 102_400
	MaxVoteReasonChars     = 500
	MaxRankEntries         = 100
	MaxCapabilityWarmup    = 1000
	DefaultCacheTTL        = 24 * time.Hour
	DefaultRefreshInterval = time.Hour
	DefaultRefreshStale    = 0.8
)

// Tag is an ordered sequence of strings; by convention element 0 is the tag
// name and the remainder are its values.
type Tag []string

// Name returns the tag's first element, or the empty string for a
// malformed (empty) tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's value at the given 1-based position (i.e. Value(1)
// is t[1]), or the empty string if absent.
func (t Tag) Value(i int) string {
	if i < 0 || i >= len(t) {
		return ""
	}
	return t[i]
}

// Record is the immutable signed object exchanged over the relay. The
// transport is responsible for producing and verifying Signature; this
// package only shapes and validates the fields it understands.
type Record struct {
	ID         string    `json:"id"`
	AuthorPub  string    `json:"author_pubkey"`
	CreatedAt  int64     `json:"created_at"`
	Kind       Kind      `json:"kind"`
	Tags       []Tag     `json:"tags"`
	Content    string    `json:"content"`
	Signature  string    `json:"signature"`
}

// FirstTag returns the first tag named name, and whether one was found.
// Parsers use this for d/type/expires (first occurrence wins, per spec §9
// "Determinism across implementations").
func (r *Record) FirstTag(name string) (Tag, bool) {
	for _, tag := range r.Tags {
		if tag.Name() == name {
			return tag, true
		}
	}
	return nil, false
}

// AllTags returns every tag named name, in document order. Parsers use this
// for p/weight/action/pricing/nip/k, which are collected rather than
// tie-broken.
func (r *Record) AllTags(name string) []Tag {
	var out []Tag
	for _, tag := range r.Tags {
		if tag.Name() == name {
			out = append(out, tag)
		}
	}
	return out
}

// CreatedAtTime converts CreatedAt to a time.Time in UTC.
func (r *Record) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0).UTC()
}
