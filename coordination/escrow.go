package coordination

import (
	"log/slog"
	"math/big"
)

// EscrowDecision is the coordinator's logged intent for the payment
// subsystem to honor; this package never moves funds itself (spec §4.4).
type EscrowDecision string

const (
	EscrowRelease EscrowDecision = "release"
	EscrowRefund  EscrowDecision = "refund"
)

// EscrowResolution records what the escrow coordinator decided and the
// address the decision applies to.
type EscrowResolution struct {
	ProposalID string
	Address    string
	Decision   EscrowDecision
	Amount     *big.Int
}

// EscrowCoordinator decides release-vs-refund for a proposal's posted stake
// and zeroes the runtime stakes map. It never mutates shared state other
// than the Stakes map on the Proposal object it is given, and it never
// returns an error to the caller: any internal failure is logged and
// swallowed so result publication is never blocked (spec §4.4, §7).
type EscrowCoordinator struct {
	log *slog.Logger
}

// NewEscrowCoordinator constructs a coordinator that logs through logger.
// A nil logger falls back to slog.Default().
func NewEscrowCoordinator(logger *slog.Logger) *EscrowCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowCoordinator{log: logger}
}

// Resolve decides and records the escrow outcome for proposal given the
// evaluator's outcome. It is idempotent: calling it again on a proposal
// whose stake has already been zeroed is a no-op. Calling it on a proposal
// with no stake required is also a no-op.
func (c *EscrowCoordinator) Resolve(proposal *Proposal, outcome Outcome) (result *EscrowResolution) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("escrow resolve panicked", "proposal_id", proposal.ID, "panic", r)
			result = nil
		}
	}()

	if proposal.StakeRequired == nil {
		return nil
	}
	total := new(big.Int)
	allZero := true
	for _, amt := range proposal.Stakes {
		if amt != nil {
			total.Add(total, amt)
			if amt.Sign() != 0 {
				allZero = false
			}
		}
	}
	if len(proposal.Stakes) == 0 || allZero {
		return nil
	}

	var decision EscrowDecision
	switch outcome {
	case OutcomeApproved:
		decision = EscrowRelease
	case OutcomeRejected, OutcomeInconclusive, OutcomeExpired:
		// Expired-with-stake-posted refunds to participants rather than
		// releasing, mirroring a deposit refund-on-non-pass policy.
		decision = EscrowRefund
	default:
		decision = EscrowRefund
	}

	for pk := range proposal.Stakes {
		proposal.Stakes[pk] = big.NewInt(0)
	}

	c.log.Info("escrow resolved",
		"proposal_id", proposal.ID,
		"address", proposal.EscrowAddress,
		"decision", string(decision),
		"amount", total.String(),
	)

	return &EscrowResolution{
		ProposalID: proposal.ID,
		Address:    proposal.EscrowAddress,
		Decision:   decision,
		Amount:     total,
	}
}
