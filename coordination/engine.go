package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentconnector/observability"
	"agentconnector/record"
	"agentconnector/transport"
)

// proposalState is the coordinator's single-writer mutable runtime state
// for one proposal: the votes observed so far and whether a result has
// already been published. Peers never construct one of these for a
// proposal they don't coordinate; they only read immutable replicas off
// the wire.
type proposalState struct {
	proposal   *Proposal
	votes      map[string]*Vote // keyed by voter pubkey; latest-wins on re-vote
	finalized  bool
	finalOutcome Outcome
}

// Engine owns every proposal a single coordinator identity authors. It is
// the only writer of proposal runtime state; readers (capability/social
// packages, RPC surfaces) are expected to go through its accessor methods,
// which take the lock for the duration of a short critical section.
type Engine struct {
	mu            sync.Mutex
	privateKeyHex string
	pubkeyHex     string
	store         transport.EventStore
	signer        transport.Signer
	escrow        *EscrowCoordinator
	audit         *AuditLog
	log           *slog.Logger
	now           func() time.Time

	proposals map[string]*proposalState
}

// NewEngine constructs a coordination engine for the identity described by
// privateKeyHex/pubkeyHex, persisting through store and signing through
// signer.
func NewEngine(store transport.EventStore, signer transport.Signer, privateKeyHex, pubkeyHex string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		privateKeyHex: privateKeyHex,
		pubkeyHex:     pubkeyHex,
		store:         store,
		signer:        signer,
		escrow:        NewEscrowCoordinator(logger),
		audit:         NewAuditLog(),
		log:           logger,
		now:           time.Now,
		proposals:     make(map[string]*proposalState),
	}
}

// SetNowFunc overrides the clock used for expiry checks; tests use this to
// simulate elapsed time deterministically.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Audit exposes the engine's append-only audit trail.
func (e *Engine) Audit() []AuditRecord {
	return e.audit.Records()
}

// SubmitProposal authors, signs, publishes, and begins tracking a new
// proposal.
func (e *Engine) SubmitProposal(ctx context.Context, in ProposalInput) (*Proposal, error) {
	e.mu.Lock()
	now := e.now()
	e.mu.Unlock()

	in.Now = now
	signed, proposal, err := AuthorProposal(ctx, e.signer, e.privateKeyHex, in)
	if err != nil {
		return nil, err
	}
	if err := e.store.StoreEvent(ctx, signed); err != nil {
		return nil, record.Wrap(record.TransportFailure, err, "store proposal")
	}
	observability.Events().RecordPublished(fmt.Sprintf("%d", record.KindProposal))

	e.mu.Lock()
	e.proposals[proposal.ID] = &proposalState{proposal: proposal, votes: make(map[string]*Vote)}
	e.mu.Unlock()

	for pk, w := range proposal.Weights {
		if w <= 0 {
			e.log.Warn("non-positive proposal weight will be evaluated as 1", "proposal_id", proposal.ID, "pubkey", pk, "weight", w)
		}
	}

	e.audit.Append(AuditEventProposed, proposal.ID, e.pubkeyHex, fmt.Sprintf("type=%s participants=%d", proposal.Type, len(proposal.Participants)))
	return proposal, nil
}

// RecordVote validates and applies a parsed vote to the proposal's runtime
// tally. Re-votes from the same pubkey overwrite the prior ballot
// (latest-wins, per the documented duplicate-vote policy).
func (e *Engine) RecordVote(vote *Vote) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.proposals[vote.ProposalID]
	if !ok {
		return record.NewError(record.InvalidRecord, "unknown proposal", "proposal_id", vote.ProposalID)
	}
	if st.finalized {
		return nil
	}
	st.votes[vote.Voter] = vote
	e.audit.Append(AuditEventVote, vote.ProposalID, vote.Voter, fmt.Sprintf("choice=%s", vote.Choice))
	return nil
}

// FinalizeProposal evaluates the named proposal and, on a terminal
// outcome, publishes its result and resolves escrow exactly once
// ("evaluate at most once per (proposal, outcome)"). A second call after
// finalization is a no-op.
func (e *Engine) FinalizeProposal(ctx context.Context, proposalID string) (*Result, error) {
	e.mu.Lock()
	st, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		return nil, record.NewError(record.InvalidRecord, "unknown proposal", "proposal_id", proposalID)
	}
	if st.finalized {
		e.mu.Unlock()
		return nil, nil
	}
	now := e.now()
	votesCopy := make(map[string]*Vote, len(st.votes))
	for k, v := range st.votes {
		votesCopy[k] = v
	}
	proposal := st.proposal
	e.mu.Unlock()

	outcome, err := Evaluate(proposal, votesCopy, now)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomePending {
		return nil, nil
	}

	e.mu.Lock()
	if st.finalized {
		e.mu.Unlock()
		return nil, nil
	}
	st.finalized = true
	e.mu.Unlock()

	result, resolution, err := CreateResultWithAction(ctx, e.store, e.signer, e.privateKeyHex, proposal, votesCopy, outcome, e.escrow, e.log)
	if err != nil {
		e.mu.Lock()
		st.finalized = false
		e.mu.Unlock()
		return nil, err
	}
	observability.Events().RecordPublished(fmt.Sprintf("%d", record.KindResult))
	observability.Events().RecordOutcome(string(proposal.Type), string(outcome))

	e.mu.Lock()
	st.finalOutcome = outcome
	e.mu.Unlock()

	e.audit.Append(AuditEventFinalized, proposalID, e.pubkeyHex, fmt.Sprintf("outcome=%s", outcome))
	if resolution != nil {
		e.audit.Append(AuditEventEscrow, proposalID, e.pubkeyHex, fmt.Sprintf("decision=%s amount=%s", resolution.Decision, resolution.Amount.String()))
	}
	return result, nil
}

// Proposal returns the tracked proposal by id, if any.
func (e *Engine) Proposal(proposalID string) (*Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.proposals[proposalID]
	if !ok {
		return nil, false
	}
	return st.proposal, true
}

// Votes returns a snapshot of the votes observed so far for a proposal.
func (e *Engine) Votes(proposalID string) map[string]*Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.proposals[proposalID]
	if !ok {
		return nil
	}
	out := make(map[string]*Vote, len(st.votes))
	for k, v := range st.votes {
		out[k] = v
	}
	return out
}
