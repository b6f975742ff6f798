// Package coordination implements the signed proposal/vote/result protocol:
// authoring and parsing kind-5910/6910/7910 records, the pluggable
// consensus evaluator, the escrow coordinator, and the result aggregator.
package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentconnector/crypto"
	"agentconnector/record"
	"agentconnector/transport"
)

// CoordinationType enumerates the supported proposal dispatch rules.
// Ranked and allocation parse successfully but are rejected at evaluation
// time (spec §4.3).
type CoordinationType string

const (
	TypeConsensus  CoordinationType = "consensus"
	TypeMajority   CoordinationType = "majority"
	TypeThreshold  CoordinationType = "threshold"
	TypeRanked     CoordinationType = "ranked"
	TypeAllocation CoordinationType = "allocation"
)

func (t CoordinationType) valid() bool {
	switch t {
	case TypeConsensus, TypeMajority, TypeThreshold, TypeRanked, TypeAllocation:
		return true
	default:
		return false
	}
}

// Action is the optional side-effect the coordinator promises to emit if a
// proposal is approved.
type Action struct {
	Kind int
	Data string
}

// Proposal is the parsed form of a kind-5910 record.
type Proposal struct {
	ID             string
	Type           CoordinationType
	Participants   []string
	Threshold      int // 0 means unset
	Quorum         int // 0 means unset
	ExpiresAt      time.Time
	Action         *Action
	Weights        map[string]float64
	StakeRequired  *big.Int
	EscrowAddress  string
	Stakes         map[string]*big.Int
	Content        string
	Record         *record.Record
}

// ParticipantSet returns the participant list as a lookup set.
func (p *Proposal) ParticipantSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Participants))
	for _, pk := range p.Participants {
		set[pk] = struct{}{}
	}
	return set
}

// NewProposalID generates a fresh 128-bit random id, hex-encoded to 32
// characters (uuid v4 with dashes stripped).
func NewProposalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ProposalInput collects the arguments to AuthorProposal.
type ProposalInput struct {
	Type              CoordinationType
	Participants      []string
	ExpiresInSeconds  int64
	Description       string
	Threshold         int
	Quorum            int
	Action            *Action
	Weights           map[string]float64
	StakeRequired     *big.Int
	SelfPaymentAddr   string
	Now               time.Time
}

// AuthorProposal validates input against the invariants in spec §3 and
// produces a signed kind-5910 record plus the parsed Proposal it describes.
func AuthorProposal(ctx context.Context, signer transport.Signer, privateKeyHex string, in ProposalInput) (*record.Record, *Proposal, error) {
	if !in.Type.valid() {
		return nil, nil, record.NewError(record.InvalidRecord, fmt.Sprintf("unknown proposal type %q", in.Type))
	}
	if len(in.Participants) == 0 || len(in.Participants) > record.MaxParticipants {
		return nil, nil, record.NewError(record.InvalidRecord, fmt.Sprintf("participants must number 1..%d", record.MaxParticipants))
	}
	seen := make(map[string]struct{}, len(in.Participants))
	for _, p := range in.Participants {
		if !crypto.ValidPubkeyHex(p) {
			return nil, nil, record.NewError(record.InvalidRecord, "participant pubkey must be 64-hex", "pubkey", p)
		}
		if _, dup := seen[p]; dup {
			return nil, nil, record.NewError(record.InvalidRecord, "duplicate participant", "pubkey", p)
		}
		seen[p] = struct{}{}
	}
	if in.Threshold < 0 || in.Threshold > len(in.Participants) {
		return nil, nil, record.NewError(record.InvalidRecord, "threshold must be 0..len(participants)")
	}
	if in.Quorum < 0 {
		return nil, nil, record.NewError(record.InvalidRecord, "quorum must be non-negative")
	}
	if in.ExpiresInSeconds <= 0 {
		return nil, nil, record.NewError(record.InvalidRecord, "expires_in_seconds must be positive")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, nil, record.NewError(record.InvalidRecord, "description must not be empty")
	}
	if in.Action != nil {
		if in.Action.Kind <= 0 {
			return nil, nil, record.NewError(record.InvalidRecord, "action kind must be positive")
		}
		if len(in.Action.Data) > record.MaxActionDataBytes {
			return nil, nil, record.NewError(record.InvalidRecord, "action data exceeds max size")
		}
		if !json.Valid([]byte(in.Action.Data)) {
			return nil, nil, record.NewError(record.InvalidRecord, "action data must be valid JSON")
		}
	}
	for pk, w := range in.Weights {
		if _, ok := seen[pk]; !ok {
			return nil, nil, record.NewError(record.InvalidRecord, "weight references unknown participant", "pubkey", pk)
		}
		if w > record.MaxWeightValue {
			return nil, nil, record.NewError(record.InvalidRecord, "weight exceeds maximum", "pubkey", pk)
		}
	}
	if in.StakeRequired != nil && in.StakeRequired.Sign() <= 0 {
		return nil, nil, record.NewError(record.InvalidRecord, "stake_required must be positive when set")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id := NewProposalID()
	expiresAt := now.Add(time.Duration(in.ExpiresInSeconds) * time.Second)

	var escrowAddr string
	content := in.Description
	if in.StakeRequired != nil {
		escrowAddr = EscrowAddress(in.SelfPaymentAddr, id)
		content = content + "\nEscrow Address: " + escrowAddr
	}

	tags := []record.Tag{{record.TagID, id}, {record.TagType, string(in.Type)}}
	for _, p := range in.Participants {
		tags = append(tags, record.Tag{record.TagParticipant, p})
	}
	if in.Threshold > 0 {
		tags = append(tags, record.Tag{record.TagThreshold, strconv.Itoa(in.Threshold)})
	}
	if in.Quorum > 0 {
		tags = append(tags, record.Tag{record.TagQuorum, strconv.Itoa(in.Quorum)})
	}
	tags = append(tags, record.Tag{record.TagExpires, record.FormatInt(expiresAt.Unix())})
	if in.Action != nil {
		tags = append(tags, record.Tag{record.TagAction, strconv.Itoa(in.Action.Kind), in.Action.Data})
	}
	for _, p := range in.Participants {
		if w, ok := in.Weights[p]; ok {
			tags = append(tags, record.Tag{record.TagWeight, p, strconv.FormatFloat(w, 'g', -1, 64)})
		}
	}
	if in.StakeRequired != nil {
		tags = append(tags, record.Tag{record.TagStake, in.StakeRequired.String()})
	}

	template := &record.Record{
		Kind:    record.KindProposal,
		Tags:    tags,
		Content: content,
	}
	signed, err := signer.Sign(ctx, template, privateKeyHex)
	if err != nil {
		return nil, nil, record.Wrap(record.TransportFailure, err, "sign proposal")
	}

	proposal := &Proposal{
		ID:            id,
		Type:          in.Type,
		Participants:  append([]string(nil), in.Participants...),
		Threshold:     in.Threshold,
		Quorum:        in.Quorum,
		ExpiresAt:     expiresAt,
		Action:        in.Action,
		Weights:       cloneWeights(in.Weights),
		StakeRequired: in.StakeRequired,
		EscrowAddress: escrowAddr,
		Stakes:        make(map[string]*big.Int),
		Content:       content,
		Record:        signed,
	}
	return signed, proposal, nil
}

func cloneWeights(w map[string]float64) map[string]float64 {
	if w == nil {
		return nil
	}
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// EscrowAddress derives the escrow routing address for a proposal.
func EscrowAddress(coordinatorPaymentAddr, proposalID string) string {
	return coordinatorPaymentAddr + ".escrow." + proposalID
}

// ParseProposal validates kind, extracts and type-checks tags, enforces the
// bounds in spec §6, and returns the parsed Proposal. It does not itself
// verify the signature; callers are expected to call a Signer.Verify first
// (parsers in this package assume the record already passed verification,
// matching "record signature verifies before any other field is trusted").
func ParseProposal(rec *record.Record, now time.Time) (*Proposal, error) {
	if rec.Kind != record.KindProposal {
		return nil, record.NewError(record.InvalidRecord, fmt.Sprintf("expected kind %d, got %d", record.KindProposal, rec.Kind))
	}
	idTag, ok := rec.FirstTag(record.TagID)
	if !ok || idTag.Value(1) == "" {
		return nil, record.NewError(record.InvalidRecord, "missing d tag")
	}
	id := idTag.Value(1)
	if len(id) != record.ProposalIDHexLen {
		return nil, record.NewError(record.InvalidRecord, "d tag must be 32 hex characters")
	}

	typeTag, ok := rec.FirstTag(record.TagType)
	if !ok {
		return nil, record.NewError(record.InvalidRecord, "missing type tag")
	}
	ptype := CoordinationType(typeTag.Value(1))
	if !ptype.valid() {
		return nil, record.NewError(record.InvalidRecord, fmt.Sprintf("unknown proposal type %q", typeTag.Value(1)))
	}

	var participants []string
	seen := make(map[string]struct{})
	for _, tag := range rec.AllTags(record.TagParticipant) {
		pk := tag.Value(1)
		if !crypto.ValidPubkeyHex(pk) {
			return nil, record.NewError(record.InvalidRecord, "participant pubkey must be 64-hex", "pubkey", pk)
		}
		if _, dup := seen[pk]; dup {
			return nil, record.NewError(record.InvalidRecord, "duplicate participant", "pubkey", pk)
		}
		seen[pk] = struct{}{}
		participants = append(participants, pk)
	}
	if len(participants) == 0 || len(participants) > record.MaxParticipants {
		return nil, record.NewError(record.InvalidRecord, fmt.Sprintf("participants must number 1..%d", record.MaxParticipants))
	}

	threshold := 0
	if tag, ok := rec.FirstTag(record.TagThreshold); ok {
		v, err := strconv.Atoi(tag.Value(1))
		if err != nil || v <= 0 || v > len(participants) {
			return nil, record.NewError(record.InvalidRecord, "invalid threshold tag")
		}
		threshold = v
	}

	quorum := 0
	if tag, ok := rec.FirstTag(record.TagQuorum); ok {
		v, err := strconv.Atoi(tag.Value(1))
		if err != nil || v <= 0 {
			return nil, record.NewError(record.InvalidRecord, "invalid quorum tag")
		}
		quorum = v
	}

	expTag, ok := rec.FirstTag(record.TagExpires)
	if !ok {
		return nil, record.NewError(record.InvalidRecord, "missing expires tag")
	}
	expSeconds, err := strconv.ParseInt(expTag.Value(1), 10, 64)
	if err != nil {
		return nil, record.NewError(record.InvalidRecord, "invalid expires tag")
	}
	expiresAt := time.Unix(expSeconds, 0).UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !expiresAt.After(now) {
		return nil, record.NewError(record.ExpiredProposal, "proposal already expired", "proposal_id", id)
	}

	var action *Action
	for _, tag := range rec.AllTags(record.TagAction) {
		kind, err := strconv.Atoi(tag.Value(1))
		if err != nil || kind <= 0 {
			return nil, record.NewError(record.InvalidRecord, "invalid action kind")
		}
		data := tag.Value(2)
		if len(data) > record.MaxActionDataBytes {
			return nil, record.NewError(record.InvalidRecord, "action data exceeds max size")
		}
		if !json.Valid([]byte(data)) {
			return nil, record.NewError(record.InvalidRecord, "action data must be valid JSON")
		}
		action = &Action{Kind: kind, Data: data}
		break
	}

	var weights map[string]float64
	for _, tag := range rec.AllTags(record.TagWeight) {
		pk := tag.Value(1)
		if _, ok := seen[pk]; !ok {
			return nil, record.NewError(record.InvalidRecord, "weight references unknown participant", "pubkey", pk)
		}
		v, err := strconv.ParseFloat(tag.Value(2), 64)
		if err != nil || v < 0 || v > record.MaxWeightValue {
			return nil, record.NewError(record.InvalidRecord, "invalid weight value", "pubkey", pk)
		}
		if weights == nil {
			weights = make(map[string]float64)
		}
		weights[pk] = v
	}

	var stakeRequired *big.Int
	var escrowAddr string
	if tag, ok := rec.FirstTag(record.TagStake); ok {
		v, ok := new(big.Int).SetString(tag.Value(1), 10)
		if !ok || v.Sign() <= 0 {
			return nil, record.NewError(record.InvalidRecord, "invalid stake tag")
		}
		stakeRequired = v
		if idx := strings.Index(rec.Content, "Escrow Address: "); idx >= 0 {
			escrowAddr = strings.TrimSpace(rec.Content[idx+len("Escrow Address: "):])
		}
	}

	return &Proposal{
		ID:            id,
		Type:          ptype,
		Participants:  participants,
		Threshold:     threshold,
		Quorum:        quorum,
		ExpiresAt:     expiresAt,
		Action:        action,
		Weights:       weights,
		StakeRequired: stakeRequired,
		EscrowAddress: escrowAddr,
		Stakes:        make(map[string]*big.Int),
		Content:       rec.Content,
		Record:        rec,
	}, nil
}
