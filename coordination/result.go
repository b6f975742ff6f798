package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"agentconnector/record"
	"agentconnector/transport"
)

// Result is the parsed form of a kind-7910 record.
type Result struct {
	ProposalID    string
	Outcome       Outcome
	Approve       int
	Reject        int
	Abstain       int
	Voted         int
	Total         int
	VoteEventIDs  []string
	Content       string
	Record        *record.Record
}

// BuildResult computes tally and participation, serializes the kind-7910
// tags in the order spec'd by §4.5, and signs the record.
func BuildResult(ctx context.Context, signer transport.Signer, privateKeyHex string, proposal *Proposal, votes map[string]*Vote, outcome Outcome) (*record.Record, *Result, error) {
	t := tallyVotes(votes)
	voteIDs := make([]string, 0, len(votes))
	tags := []record.Tag{
		{record.TagEvent, proposal.Record.ID, record.MarkerProposal},
		{record.TagID, proposal.ID},
		{record.TagOutcome, string(outcome)},
		{record.TagVotes, record.FormatInt(int64(t.approve)), record.FormatInt(int64(t.reject)), record.FormatInt(int64(t.abstain))},
		{record.TagParticipants, record.FormatInt(int64(len(votes))), record.FormatInt(int64(len(proposal.Participants)))},
	}
	for _, pk := range proposal.Participants {
		v, ok := votes[pk]
		if !ok {
			continue
		}
		tags = append(tags, record.Tag{record.TagEvent, v.Record.ID, record.MarkerVote})
		voteIDs = append(voteIDs, v.Record.ID)
	}

	content := fmt.Sprintf("Proposal %s with %d/%d/%d votes.", outcome, t.approve, t.reject, t.abstain)

	template := &record.Record{
		Kind:    record.KindResult,
		Tags:    tags,
		Content: content,
	}
	signed, err := signer.Sign(ctx, template, privateKeyHex)
	if err != nil {
		return nil, nil, record.Wrap(record.TransportFailure, err, "sign result")
	}

	return signed, &Result{
		ProposalID:   proposal.ID,
		Outcome:      outcome,
		Approve:      t.approve,
		Reject:       t.reject,
		Abstain:      t.abstain,
		Voted:        len(votes),
		Total:        len(proposal.Participants),
		VoteEventIDs: voteIDs,
		Content:      content,
		Record:       signed,
	}, nil
}

// CreateResultWithAction is the entry point spec'd in §4.5: it always
// publishes the result first, then best-effort resolves escrow, then
// best-effort emits the approved action. Escrow and action failures are
// logged and swallowed; they never prevent the result from having been
// published.
func CreateResultWithAction(
	ctx context.Context,
	store transport.EventStore,
	signer transport.Signer,
	privateKeyHex string,
	proposal *Proposal,
	votes map[string]*Vote,
	outcome Outcome,
	escrow *EscrowCoordinator,
	logger *slog.Logger,
) (*Result, *EscrowResolution, error) {
	if logger == nil {
		logger = slog.Default()
	}

	resultRec, result, err := BuildResult(ctx, signer, privateKeyHex, proposal, votes, outcome)
	if err != nil {
		return nil, nil, err
	}
	if err := store.StoreEvent(ctx, resultRec); err != nil {
		return nil, nil, record.Wrap(record.TransportFailure, err, "store result")
	}

	var resolution *EscrowResolution
	if proposal.StakeRequired != nil && escrow != nil {
		resolution = escrow.Resolve(proposal, outcome)
	}

	if outcome == OutcomeApproved && proposal.Action != nil {
		if !json.Valid([]byte(proposal.Action.Data)) {
			logger.Error("approved action has invalid JSON data, skipping emission", "proposal_id", proposal.ID)
			return result, resolution, nil
		}
		actionTemplate := &record.Record{
			AuthorPub: proposal.Record.AuthorPub,
			Kind:      record.Kind(proposal.Action.Kind),
			Content:   proposal.Action.Data,
		}
		actionRec, err := signer.Sign(ctx, actionTemplate, privateKeyHex)
		if err != nil {
			logger.Error("failed to sign approved action, skipping emission", "proposal_id", proposal.ID, "err", err)
			return result, resolution, nil
		}
		if err := store.StoreEvent(ctx, actionRec); err != nil {
			logger.Error("failed to store approved action, skipping emission", "proposal_id", proposal.ID, "err", err)
		}
	}

	return result, resolution, nil
}
