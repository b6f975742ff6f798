package record

import "fmt"

// ErrorKind tags the category of failure raised by parsing, evaluation, or
// dispatch. Callers should use errors.As to recover the concrete *Error and
// switch on Kind rather than matching message strings.
type ErrorKind string

const (
	// InvalidRecord covers schema, length, and type violations, signature
	// failures, and wrong-kind records.
	InvalidRecord ErrorKind = "invalid_record"
	// ExpiredProposal is raised when a parsed proposal's expires_at is not
	// strictly in the future.
	ExpiredProposal ErrorKind = "expired_proposal"
	// NotParticipant is raised when a vote's author is absent from the
	// referenced proposal's participant list.
	NotParticipant ErrorKind = "not_participant"
	// ProposalMismatch is raised when a vote's d tag disagrees with the
	// proposal id it is being validated against.
	ProposalMismatch ErrorKind = "proposal_mismatch"
	// DuplicateVote is raised by callers enforcing a first-wins policy; the
	// coordination engine in this repository applies latest-wins instead and
	// does not raise this kind during normal operation.
	DuplicateVote ErrorKind = "duplicate_vote"
	// UnsupportedCoordinationType is raised by the evaluator for ranked and
	// allocation proposal types.
	UnsupportedCoordinationType ErrorKind = "unsupported_coordination_type"
	// CapabilityMissing is raised when a forced cache refresh finds no
	// capability record for the requested pubkey.
	CapabilityMissing ErrorKind = "capability_missing"
	// TransportFailure wraps an event-store or transport I/O error.
	TransportFailure ErrorKind = "transport_failure"
)

// Error is the tagged error type shared by the coordination and capability
// packages. It always carries a human-readable message and may carry a small
// set of context fields for logging.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	Cause   error
}

// NewError constructs a tagged error with optional key/value context fields.
// fields must be supplied in pairs; an unpaired trailing key is dropped.
func NewError(kind ErrorKind, message string, fields ...string) *Error {
	e := &Error{Kind: kind, Message: message}
	if len(fields) > 0 {
		e.Fields = make(map[string]string, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			e.Fields[fields[i]] = fields[i+1]
		}
	}
	return e
}

// Wrap constructs a tagged error that chains an underlying cause.
func Wrap(kind ErrorKind, cause error, message string, fields ...string) *Error {
	e := NewError(kind, message, fields...)
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, record.NewError(record.ExpiredProposal, "")) style checks,
// though errors.As(&record.Error{}) switching on Kind is preferred.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Kind == other.Kind
}
