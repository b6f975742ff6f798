package record

import (
	"encoding/json"
	"strconv"
)

// canonicalRecord is the exact field set the signature covers, in the order
// spec'd by the transport: (author_pubkey, created_at, kind, tags, content).
// JSON is used as the canonical encoding since Go's encoding/json already
// gives deterministic key ordering for a fixed struct and deterministic
// array ordering for slices.
type canonicalRecord struct {
	AuthorPub string  `json:"author_pubkey"`
	CreatedAt int64   `json:"created_at"`
	Kind      Kind    `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string  `json:"content"`
}

// CanonicalBytes returns the exact byte sequence a signer signs and a
// verifier checks. It ignores ID and Signature, which are derived from (and
// never inputs to) this serialization.
func CanonicalBytes(r *Record) []byte {
	tags := make([][]string, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = []string(t)
	}
	buf, err := json.Marshal(canonicalRecord{
		AuthorPub: r.AuthorPub,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Tags:      tags,
		Content:   r.Content,
	})
	if err != nil {
		// canonicalRecord contains only strings, an int64, and a Kind; json
		// marshaling of these never fails.
		panic("record: canonical marshal: " + err.Error())
	}
	return buf
}

// FormatInt is a small helper so callers building tag values don't reach for
// strconv directly; kept here to keep tag construction consistent across
// the proposal, vote, and result authors.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
