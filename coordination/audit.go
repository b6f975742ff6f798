package coordination

import (
	"sync"
	"time"
)

// AuditEvent names the lifecycle transition an AuditRecord describes.
type AuditEvent string

const (
	AuditEventProposed AuditEvent = "proposed"
	AuditEventVote     AuditEvent = "vote"
	AuditEventFinalized AuditEvent = "finalized"
	AuditEventEscrow    AuditEvent = "escrow"
)

// AuditRecord is an append-only observability entry. It is not part of the
// signed wire protocol; it exists purely so an operator can reconstruct the
// ordering of proposal/vote/finalize/escrow transitions without replaying
// the event store.
type AuditRecord struct {
	Sequence   uint64
	Timestamp  time.Time
	Event      AuditEvent
	ProposalID string
	Actor      string
	Details    string
}

// AuditLog is a concurrency-safe, in-memory, append-only audit trail.
type AuditLog struct {
	mu      sync.Mutex
	seq     uint64
	records []AuditRecord
	now     func() time.Time
}

// NewAuditLog returns an empty audit log using time.Now for timestamps.
func NewAuditLog() *AuditLog {
	return &AuditLog{now: time.Now}
}

// Append records a new audit entry, assigning it the next sequence number.
func (l *AuditLog) Append(event AuditEvent, proposalID, actor, details string) AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	rec := AuditRecord{
		Sequence:   l.seq,
		Timestamp:  l.now().UTC(),
		Event:      event,
		ProposalID: proposalID,
		Actor:      actor,
		Details:    details,
	}
	l.records = append(l.records, rec)
	return rec
}

// Records returns a copy of every entry appended so far, in order.
func (l *AuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}
