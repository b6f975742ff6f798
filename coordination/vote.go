package coordination

import (
	"context"
	"strconv"
	"strings"

	"agentconnector/record"
	"agentconnector/transport"
)

// VoteChoice is a participant's ballot selection.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

func (v VoteChoice) valid() bool {
	switch v {
	case VoteApprove, VoteReject, VoteAbstain:
		return true
	default:
		return false
	}
}

// Vote is the parsed form of a kind-6910 record.
type Vote struct {
	ProposalID string
	Voter      string
	Choice     VoteChoice
	Reason     string
	Rank       []int
	Record     *record.Record
}

// VoteInput collects the arguments to AuthorVote.
type VoteInput struct {
	Proposal *Proposal
	Choice   VoteChoice
	Reason   string
	Rank     []int
}

// AuthorVote builds, validates, and signs a kind-6910 record on behalf of
// the signer identified by privateKeyHex.
func AuthorVote(ctx context.Context, signer transport.Signer, privateKeyHex, voterPubkey string, in VoteInput) (*record.Record, *Vote, error) {
	if !in.Choice.valid() {
		return nil, nil, record.NewError(record.InvalidRecord, "invalid vote choice")
	}
	if _, ok := in.Proposal.ParticipantSet()[voterPubkey]; !ok {
		return nil, nil, record.NewError(record.NotParticipant, "voter is not a proposal participant", "pubkey", voterPubkey, "proposal_id", in.Proposal.ID)
	}
	if len(in.Reason) > record.MaxVoteReasonChars {
		return nil, nil, record.NewError(record.InvalidRecord, "reason exceeds max length")
	}
	if len(in.Rank) > record.MaxRankEntries {
		return nil, nil, record.NewError(record.InvalidRecord, "rank exceeds max entries")
	}

	tags := []record.Tag{
		{record.TagEvent, in.Proposal.Record.ID, record.MarkerProposal},
		{record.TagID, in.Proposal.ID},
		{record.TagVote, string(in.Choice)},
	}
	if in.Reason != "" {
		tags = append(tags, record.Tag{record.TagReason, in.Reason})
	}
	if len(in.Rank) > 0 {
		rankTag := record.Tag{record.TagRank}
		for _, r := range in.Rank {
			rankTag = append(rankTag, strconv.Itoa(r))
		}
		tags = append(tags, rankTag)
	}

	template := &record.Record{
		AuthorPub: voterPubkey,
		Kind:      record.KindVote,
		Tags:      tags,
		Content:   in.Reason,
	}
	signed, err := signer.Sign(ctx, template, privateKeyHex)
	if err != nil {
		return nil, nil, record.Wrap(record.TransportFailure, err, "sign vote")
	}

	return signed, &Vote{
		ProposalID: in.Proposal.ID,
		Voter:      voterPubkey,
		Choice:     in.Choice,
		Reason:     in.Reason,
		Rank:       append([]int(nil), in.Rank...),
		Record:     signed,
	}, nil
}

// ParseVote validates kind, extracts the single proposal-marked e tag,
// enforces d == proposalID, checks the vote value, and requires the
// author to be a listed participant.
func ParseVote(rec *record.Record, proposal *Proposal) (*Vote, error) {
	if rec.Kind != record.KindVote {
		return nil, record.NewError(record.InvalidRecord, "wrong kind for vote")
	}

	var proposalRefs []record.Tag
	for _, tag := range rec.AllTags(record.TagEvent) {
		if tag.Value(2) == record.MarkerProposal {
			proposalRefs = append(proposalRefs, tag)
		}
	}
	if len(proposalRefs) != 1 {
		return nil, record.NewError(record.InvalidRecord, "vote must reference exactly one proposal")
	}

	dTag, ok := rec.FirstTag(record.TagID)
	if !ok {
		return nil, record.NewError(record.InvalidRecord, "missing d tag")
	}
	if dTag.Value(1) != proposal.ID {
		return nil, record.NewError(record.ProposalMismatch, "vote d tag does not match proposal", "vote_d", dTag.Value(1), "proposal_id", proposal.ID)
	}

	voteTag, ok := rec.FirstTag(record.TagVote)
	if !ok {
		return nil, record.NewError(record.InvalidRecord, "missing vote tag")
	}
	choice := VoteChoice(voteTag.Value(1))
	if !choice.valid() {
		return nil, record.NewError(record.InvalidRecord, "invalid vote value")
	}

	reason := ""
	if tag, ok := rec.FirstTag(record.TagReason); ok {
		reason = tag.Value(1)
		if len(reason) > record.MaxVoteReasonChars {
			return nil, record.NewError(record.InvalidRecord, "reason exceeds max length")
		}
	}

	var rank []int
	if tag, ok := rec.FirstTag(record.TagRank); ok {
		values := []string(tag)[1:]
		if len(values) > record.MaxRankEntries {
			return nil, record.NewError(record.InvalidRecord, "rank exceeds max entries")
		}
		for _, v := range values {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, record.NewError(record.InvalidRecord, "non-numeric rank entry")
			}
			rank = append(rank, n)
		}
	}

	if _, ok := proposal.ParticipantSet()[rec.AuthorPub]; !ok {
		return nil, record.NewError(record.NotParticipant, "voter is not a proposal participant", "pubkey", rec.AuthorPub, "proposal_id", proposal.ID)
	}

	return &Vote{
		ProposalID: proposal.ID,
		Voter:      rec.AuthorPub,
		Choice:     choice,
		Reason:     reason,
		Rank:       rank,
		Record:     rec,
	}, nil
}
