package coordination

import (
	"testing"
	"time"
)

func votesFor(participants []string, choices ...VoteChoice) map[string]*Vote {
	votes := make(map[string]*Vote, len(choices))
	for i, c := range choices {
		votes[participants[i]] = &Vote{Voter: participants[i], Choice: c}
	}
	return votes
}

func fourParticipants() []string {
	return []string{"p1", "p2", "p3", "p4"}
}

func TestEvaluateConsensusUnanimousApproval(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeConsensus, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteApprove, VoteApprove)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", outcome)
	}
}

func TestEvaluateConsensusSingleRejectionRejects(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeConsensus, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteReject)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected", outcome)
	}
}

func TestEvaluateConsensusPendingUntilAllVote(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeConsensus, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want pending", outcome)
	}
}

func TestEvaluateMajorityOddParticipantsNoTie(t *testing.T) {
	participants := []string{"p1", "p2", "p3"}
	proposal := &Proposal{Type: TypeMajority, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteReject)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved (2 of 3 is majority)", outcome)
	}
}

func TestEvaluateThresholdImpossibleToReachRejectsEarly(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeThreshold, Participants: participants, Threshold: 3, ExpiresAt: time.Unix(2_000_000_000, 0)}
	// 1 approve, 2 reject cast, 1 outstanding: best case approve reaches
	// 1+1=2, short of threshold 3 — rejected without waiting for the last vote.
	votes := votesFor(participants, VoteApprove, VoteReject, VoteReject)
	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected (approve ceiling 1+1=2 < threshold 3)", outcome)
	}
}

func TestEvaluateThresholdMeetsThresholdApproves(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeThreshold, Participants: participants, Threshold: 2, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", outcome)
	}
}

func TestEvaluateExpiredWithoutQuorumIsInconclusive(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeMajority, Participants: participants, Quorum: 3, ExpiresAt: time.Unix(1_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove)

	outcome, err := Evaluate(proposal, votes, time.Unix(2_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeInconclusive {
		t.Fatalf("outcome = %q, want inconclusive", outcome)
	}
}

func TestEvaluateQuorumNotMetPendingBeforeExpiry(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeMajority, Participants: participants, Quorum: 3, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("outcome = %q, want pending", outcome)
	}
}

func TestEvaluateRankedIsUnsupported(t *testing.T) {
	participants := fourParticipants()
	proposal := &Proposal{Type: TypeRanked, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteApprove, VoteApprove)

	_, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err == nil {
		t.Fatal("expected UnsupportedCoordinationType error for ranked proposals")
	}
}

func TestEvaluateWeightedOverlayAllWeightsOneMatchesUnweighted(t *testing.T) {
	participants := []string{"p1", "p2", "p3"}
	unweighted := &Proposal{Type: TypeMajority, Participants: participants, ExpiresAt: time.Unix(2_000_000_000, 0)}
	weighted := &Proposal{
		Type:         TypeMajority,
		Participants: participants,
		Weights:      map[string]float64{"p1": 1, "p2": 1, "p3": 1},
		ExpiresAt:    time.Unix(2_000_000_000, 0),
	}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteReject)

	outcomeUnweighted, err := Evaluate(unweighted, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate(unweighted): %v", err)
	}
	outcomeWeighted, err := Evaluate(weighted, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate(weighted): %v", err)
	}
	if outcomeUnweighted != outcomeWeighted {
		t.Fatalf("weighted outcome %q != unweighted outcome %q at all weights 1", outcomeWeighted, outcomeUnweighted)
	}
}

func TestEvaluateWeightedOverlayHigherWeightDominates(t *testing.T) {
	participants := []string{"heavy", "light1", "light2"}
	proposal := &Proposal{
		Type:         TypeMajority,
		Participants: participants,
		Weights:      map[string]float64{"heavy": 10, "light1": 1, "light2": 1},
		ExpiresAt:    time.Unix(2_000_000_000, 0),
	}
	votes := votesFor(participants, VoteApprove, VoteReject, VoteReject)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved (heavy weight outvotes two light rejections)", outcome)
	}
}

func TestEvaluateWeightedNonPositiveWeightClampedToOne(t *testing.T) {
	participants := []string{"p1", "p2", "p3"}
	proposal := &Proposal{
		Type:         TypeMajority,
		Participants: participants,
		Weights:      map[string]float64{"p1": -5, "p2": 0, "p3": 1},
		ExpiresAt:    time.Unix(2_000_000_000, 0),
	}
	votes := votesFor(participants, VoteApprove, VoteApprove, VoteReject)

	outcome, err := Evaluate(proposal, votes, time.Unix(1_000_000_000, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved once negative/zero weights clamp to 1", outcome)
	}
}
