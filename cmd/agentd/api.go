package main

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"agentconnector/capability"
	"agentconnector/coordination"
	"agentconnector/social"
	"agentconnector/transport"
	"agentconnector/transport/memory"
)

// connectorAPI exposes the coordination engine and capability discovery over
// plain JSON HTTP, the same params-struct-in/result-struct-out shape the
// chain's own rpc handlers use, pared down to a single-binary daemon with no
// dispatcher indirection.
type connectorAPI struct {
	engine    *coordination.Engine
	discovery *social.Discovery
	cache     *capability.Cache
	followers *memory.FollowGraph
	log       *slog.Logger
}

func (a *connectorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/proposals", a.handleSubmitProposal)
	mux.HandleFunc("/proposals/vote", a.handleRecordVote)
	mux.HandleFunc("/proposals/finalize", a.handleFinalizeProposal)
	mux.HandleFunc("/discovery", a.handleDiscover)
	mux.HandleFunc("/follows", a.handleSetFollows)
}

type setFollowsParams struct {
	Owner   string `json:"owner"`
	Follows []struct {
		Pubkey      string `json:"pubkey"`
		PaymentAddr string `json:"paymentAddr"`
		Nickname    string `json:"nickname"`
		RelayHint   string `json:"relayHint"`
	} `json:"follows"`
}

// handleSetFollows bootstraps a participant's outbound follow list into the
// in-memory reference graph so 2-hop discovery has more than the
// coordinator's own edges to expand over. A relay-backed FollowGraphRouter
// would populate this from gossiped kind-3 follow-list records instead.
func (a *connectorAPI) handleSetFollows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var p setFollowsParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Owner == "" {
		writeJSONError(w, http.StatusBadRequest, "owner is required")
		return
	}
	follows := make([]transport.Follow, 0, len(p.Follows))
	now := time.Now().UTC()
	for _, f := range p.Follows {
		follows = append(follows, transport.Follow{
			Pubkey:      f.Pubkey,
			PaymentAddr: f.PaymentAddr,
			Nickname:    f.Nickname,
			RelayHint:   f.RelayHint,
			AddedAt:     now,
		})
	}
	a.followers.SetFollows(p.Owner, follows)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type submitProposalParams struct {
	Type             string             `json:"type"`
	Participants     []string           `json:"participants"`
	ExpiresInSeconds int64              `json:"expiresInSeconds"`
	Description      string             `json:"description"`
	Threshold        int                `json:"threshold"`
	Quorum           int                `json:"quorum"`
	ActionKind       int                `json:"actionKind"`
	ActionData       string             `json:"actionData"`
	Weights          map[string]float64 `json:"weights"`
	StakeRequired    string             `json:"stakeRequired"`
	SelfPaymentAddr  string             `json:"selfPaymentAddr"`
}

func (a *connectorAPI) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var p submitProposalParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var stake *big.Int
	if p.StakeRequired != "" {
		var ok bool
		stake, ok = new(big.Int).SetString(p.StakeRequired, 10)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "stakeRequired must be a base-10 integer")
			return
		}
	}
	var action *coordination.Action
	if p.ActionKind != 0 || p.ActionData != "" {
		action = &coordination.Action{Kind: p.ActionKind, Data: p.ActionData}
	}
	proposal, err := a.engine.SubmitProposal(r.Context(), coordination.ProposalInput{
		Type:             coordination.CoordinationType(p.Type),
		Participants:     p.Participants,
		ExpiresInSeconds: p.ExpiresInSeconds,
		Description:      p.Description,
		Threshold:        p.Threshold,
		Quorum:           p.Quorum,
		Action:           action,
		Weights:          p.Weights,
		StakeRequired:    stake,
		SelfPaymentAddr:  p.SelfPaymentAddr,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type recordVoteParams struct {
	ProposalID string `json:"proposalId"`
	Voter      string `json:"voter"`
	Choice     string `json:"choice"`
	Reason     string `json:"reason"`
	Rank       []int  `json:"rank"`
}

func (a *connectorAPI) handleRecordVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var p recordVoteParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	proposal, ok := a.engine.Proposal(p.ProposalID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown proposal")
		return
	}
	vote := &coordination.Vote{
		ProposalID: p.ProposalID,
		Voter:      p.Voter,
		Choice:     coordination.VoteChoice(p.Choice),
		Reason:     p.Reason,
		Rank:       p.Rank,
	}
	if _, ok := proposal.ParticipantSet()[p.Voter]; !ok {
		writeJSONError(w, http.StatusForbidden, "voter is not a proposal participant")
		return
	}
	if err := a.engine.RecordVote(vote); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (a *connectorAPI) handleFinalizeProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	proposalID := r.URL.Query().Get("id")
	result, err := a.engine.FinalizeProposal(r.Context(), proposalID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if result == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *connectorAPI) handleDiscover(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind, err := strconv.Atoi(query.Get("kind"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "kind must be an integer record kind")
		return
	}
	self := query.Get("self")
	limit, _ := strconv.Atoi(query.Get("limit"))
	opts := social.Options{
		ExtendedHops: query.Get("extendedHops") == "true",
		Limit:        limit,
		UseCache:     true,
	}
	results, err := a.discovery.DiscoverForKind(r.Context(), self, kind, opts, a.cache)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
