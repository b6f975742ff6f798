package coordination

import (
	"fmt"
	"time"

	"agentconnector/record"
)

// Outcome is the evaluator's verdict on a proposal's accumulated votes.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeExpired      Outcome = "expired"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomePending      Outcome = "pending"
)

// tally is the raw approve/reject/abstain count over a vote set.
type tally struct {
	approve, reject, abstain int
}

func tallyVotes(votes map[string]*Vote) tally {
	var t tally
	for _, v := range votes {
		switch v.Choice {
		case VoteApprove:
			t.approve++
		case VoteReject:
			t.reject++
		case VoteAbstain:
			t.abstain++
		}
	}
	return t
}

// Evaluate is the total, side-effect-free consensus dispatch described in
// spec §4.3. It never returns an error except UnsupportedCoordinationType
// for ranked/allocation proposals.
func Evaluate(proposal *Proposal, votes map[string]*Vote, now time.Time) (Outcome, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expired := now.After(proposal.ExpiresAt)
	n := len(proposal.Participants)

	if proposal.Quorum > 0 && len(votes) < proposal.Quorum {
		if expired {
			return OutcomeInconclusive, nil
		}
		return OutcomePending, nil
	}

	if proposal.Weights != nil {
		return evaluateWeighted(proposal, votes, n, expired)
	}

	switch proposal.Type {
	case TypeConsensus:
		return evaluateConsensus(tallyVotes(votes), n, len(votes), expired), nil
	case TypeMajority:
		return evaluateMajority(tallyVotes(votes), n, len(votes), expired), nil
	case TypeThreshold:
		return evaluateThreshold(proposal, tallyVotes(votes), n, len(votes), expired), nil
	case TypeRanked, TypeAllocation:
		return "", record.NewError(record.UnsupportedCoordinationType, fmt.Sprintf("evaluator unavailable for type %q", proposal.Type))
	default:
		return "", record.NewError(record.UnsupportedCoordinationType, fmt.Sprintf("evaluator unavailable for type %q", proposal.Type))
	}
}

func evaluateConsensus(t tally, n, voted int, expired bool) Outcome {
	if t.approve == n {
		return OutcomeApproved
	}
	if t.reject > 0 {
		return OutcomeRejected
	}
	if voted < n && !expired {
		return OutcomePending
	}
	return OutcomeInconclusive
}

func evaluateMajority(t tally, n, voted int, expired bool) Outcome {
	m := n/2 + 1
	if t.approve >= m {
		return OutcomeApproved
	}
	if t.reject >= m {
		return OutcomeRejected
	}
	if voted == n {
		return OutcomeInconclusive
	}
	if expired {
		return OutcomeInconclusive
	}
	return OutcomePending
}

func evaluateThreshold(proposal *Proposal, t tally, n, voted int, expired bool) Outcome {
	threshold := proposal.Threshold
	if threshold <= 0 {
		threshold = n/2 + 1
	}
	if t.approve >= threshold {
		return OutcomeApproved
	}
	if t.approve+(n-voted) < threshold {
		return OutcomeRejected
	}
	if expired {
		return OutcomeInconclusive
	}
	return OutcomePending
}

// weight returns proposal.weights[pubkey] clamped to a positive value,
// defaulting missing entries to 1 (spec §4.3 weighted overlay; a
// non-positive configured weight is clamped to 1 with a logged warning by
// the caller that authored the proposal — the evaluator itself just
// applies the documented clamp so it stays pure).
func weight(proposal *Proposal, pubkey string) float64 {
	w, ok := proposal.Weights[pubkey]
	if !ok || w <= 0 {
		return 1
	}
	return w
}

func evaluateWeighted(proposal *Proposal, votes map[string]*Vote, n int, expired bool) (Outcome, error) {
	switch proposal.Type {
	case TypeConsensus, TypeMajority, TypeThreshold:
	case TypeRanked, TypeAllocation:
		return "", record.NewError(record.UnsupportedCoordinationType, fmt.Sprintf("evaluator unavailable for type %q", proposal.Type))
	default:
		return "", record.NewError(record.UnsupportedCoordinationType, fmt.Sprintf("evaluator unavailable for type %q", proposal.Type))
	}

	var totalWeight, approveWeight, rejectWeight float64
	for _, pk := range proposal.Participants {
		totalWeight += weight(proposal, pk)
	}
	for pk, v := range votes {
		w := weight(proposal, pk)
		switch v.Choice {
		case VoteApprove:
			approveWeight += w
		case VoteReject:
			rejectWeight += w
		}
	}

	var effectiveThreshold float64
	if proposal.Threshold > 0 {
		effectiveThreshold = (float64(proposal.Threshold) / float64(n)) * totalWeight
	} else {
		effectiveThreshold = (float64(n/2+1) / float64(n)) * totalWeight
	}

	if approveWeight >= effectiveThreshold {
		return OutcomeApproved, nil
	}
	if rejectWeight > totalWeight-effectiveThreshold {
		return OutcomeRejected, nil
	}
	if len(votes) == n {
		return OutcomeInconclusive, nil
	}
	if expired {
		return OutcomeInconclusive, nil
	}
	return OutcomePending, nil
}
