// Package capability implements the query, ranking, and in-memory caching
// of peer capability advertisements (kind 31990).
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"agentconnector/record"
	"agentconnector/transport"
)

// AgentType enumerates the roles a capability advertisement may declare.
type AgentType string

const (
	AgentDVM         AgentType = "dvm"
	AgentAssistant   AgentType = "assistant"
	AgentSpecialist  AgentType = "specialist"
	AgentCoordinator AgentType = "coordinator"
	AgentRelay       AgentType = "relay"
)

// Currency enumerates the units a pricing entry may be denominated in.
type Currency string

const (
	CurrencyMsat Currency = "msat"
	CurrencySat  Currency = "sat"
	CurrencyUSD  Currency = "usd"
)

// Price is a bigint amount in a given currency.
type Price struct {
	Amount   *big.Int
	Currency Currency
}

// Capacity describes how much concurrent work an agent accepts.
type Capacity struct {
	MaxConcurrent int
	QueueDepth    int
}

// Capability is the parsed form of a kind-31990 record.
type Capability struct {
	Identifier      string
	Pubkey          string
	SupportedKinds  map[int]struct{}
	SupportedNIPs   []string
	AgentType       AgentType
	PaymentAddress  string
	Pricing         map[int]Price
	Capacity        *Capacity
	Model           string
	Skills          []string
	Metadata        map[string]any
	CreatedAt       int64
	Record          *record.Record
}

// SupportsKind reports whether the capability serves the given kind.
func (c *Capability) SupportsKind(kind int) bool {
	_, ok := c.SupportedKinds[kind]
	return ok
}

// ParseCapability validates kind, required tags, and known bounds, and
// returns a Capability. Invalid records are the caller's responsibility to
// skip with a warning (spec §4.6 step 2).
func ParseCapability(rec *record.Record) (*Capability, error) {
	if rec.Kind != record.KindCapability {
		return nil, record.NewError(record.InvalidRecord, "wrong kind for capability")
	}
	idTag, ok := rec.FirstTag(record.TagID)
	if !ok || idTag.Value(1) == "" {
		return nil, record.NewError(record.InvalidRecord, "missing d tag")
	}

	kinds := make(map[int]struct{})
	for _, tag := range rec.AllTags(record.TagKind) {
		k, err := strconv.Atoi(tag.Value(1))
		if err != nil {
			return nil, record.NewError(record.InvalidRecord, "invalid k tag")
		}
		kinds[k] = struct{}{}
	}

	addrTag, ok := rec.FirstTag(record.TagILPAddress)
	if !ok || addrTag.Value(1) == "" {
		return nil, record.NewError(record.InvalidRecord, "missing ilp-address tag")
	}

	typeTag, ok := rec.FirstTag(record.TagAgentType)
	if !ok {
		return nil, record.NewError(record.InvalidRecord, "missing agent-type tag")
	}
	agentType := AgentType(typeTag.Value(1))
	switch agentType {
	case AgentDVM, AgentAssistant, AgentSpecialist, AgentCoordinator, AgentRelay:
	default:
		return nil, record.NewError(record.InvalidRecord, fmt.Sprintf("unknown agent-type %q", typeTag.Value(1)))
	}

	var nips []string
	for _, tag := range rec.AllTags(record.TagNIP) {
		nips = append(nips, tag.Value(1))
	}

	pricing := make(map[int]Price)
	for _, tag := range rec.AllTags(record.TagPricing) {
		kind, err := strconv.Atoi(tag.Value(1))
		if err != nil {
			return nil, record.NewError(record.InvalidRecord, "invalid pricing kind")
		}
		amount, ok := new(big.Int).SetString(tag.Value(2), 10)
		if !ok || amount.Sign() < 0 {
			return nil, record.NewError(record.InvalidRecord, "invalid pricing amount")
		}
		currency := Currency(tag.Value(3))
		switch currency {
		case CurrencyMsat, CurrencySat, CurrencyUSD:
		default:
			return nil, record.NewError(record.InvalidRecord, "invalid pricing currency")
		}
		pricing[kind] = Price{Amount: amount, Currency: currency}
	}

	var capacity *Capacity
	if tag, ok := rec.FirstTag(record.TagCapacity); ok {
		maxConcurrent, err1 := strconv.Atoi(tag.Value(1))
		queueDepth, err2 := strconv.Atoi(tag.Value(2))
		if err1 != nil || err2 != nil {
			return nil, record.NewError(record.InvalidRecord, "invalid capacity tag")
		}
		capacity = &Capacity{MaxConcurrent: maxConcurrent, QueueDepth: queueDepth}
	}

	model := ""
	if tag, ok := rec.FirstTag(record.TagModel); ok {
		model = tag.Value(1)
	}

	var skills []string
	if tag, ok := rec.FirstTag(record.TagSkills); ok {
		skills = []string(tag)[1:]
	}

	var metadata map[string]any
	if rec.Content != "" {
		if err := json.Unmarshal([]byte(rec.Content), &metadata); err != nil {
			return nil, record.NewError(record.InvalidRecord, "content must be JSON metadata")
		}
	}

	return &Capability{
		Identifier:     idTag.Value(1),
		Pubkey:         rec.AuthorPub,
		SupportedKinds: kinds,
		SupportedNIPs:  nips,
		AgentType:      agentType,
		PaymentAddress: addrTag.Value(1),
		Pricing:        pricing,
		Capacity:       capacity,
		Model:          model,
		Skills:         skills,
		Metadata:       metadata,
		CreatedAt:      rec.CreatedAt,
		Record:         rec,
	}, nil
}

// Query narrows a capability search. All fields are optional; an unset
// field imposes no constraint.
type Query struct {
	Pubkeys       []string
	RequiredKinds []int
	AgentTypes    []AgentType
	MaxPrice      *big.Int
	AddressPrefix string
	Limit         int
}

// Service executes capability queries against an event store.
type Service struct {
	store transport.EventStore
	log   logger
}

type logger interface {
	Warn(msg string, args ...any)
}

// NewService constructs a query service backed by store. log may be nil,
// in which case warnings about unparseable records are discarded.
func NewService(store transport.EventStore, log logger) *Service {
	return &Service{store: store, log: log}
}

func (s *Service) warn(msg string, args ...any) {
	if s.log != nil {
		s.log.Warn(msg, args...)
	}
}

// Run executes q against the event store, applies the in-memory filters
// and ranking described in spec §4.6, and returns at most q.Limit results.
func (s *Service) Run(ctx context.Context, q Query) ([]*Capability, error) {
	filter := transport.NewFilter(record.KindCapability)
	if len(q.RequiredKinds) > 0 {
		values := make([]string, len(q.RequiredKinds))
		for i, k := range q.RequiredKinds {
			values[i] = strconv.Itoa(k)
		}
		filter = filter.WithTag(record.TagKind, values...)
	}
	if len(q.Pubkeys) > 0 {
		filter = filter.WithAuthors(q.Pubkeys...)
	}
	if q.Limit > 0 {
		filter = filter.WithLimit(q.Limit)
	}

	records, err := s.store.QueryEvents(ctx, filter)
	if err != nil {
		s.warn("capability query: event store failure", "err", err)
		return nil, nil
	}

	capabilities := make([]*Capability, 0, len(records))
	for _, rec := range records {
		parsed, err := ParseCapability(rec)
		if err != nil {
			s.warn("capability query: skipping invalid record", "err", err)
			continue
		}
		capabilities = append(capabilities, parsed)
	}

	filtered := filterCapabilities(capabilities, q)
	rankCapabilities(filtered, q)
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered, nil
}

func filterCapabilities(caps []*Capability, q Query) []*Capability {
	out := make([]*Capability, 0, len(caps))
	for _, c := range caps {
		if len(q.AgentTypes) > 0 && !containsAgentType(q.AgentTypes, c.AgentType) {
			continue
		}
		if len(q.RequiredKinds) > 0 {
			ok := true
			for _, k := range q.RequiredKinds {
				if !c.SupportsKind(k) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
		}
		if q.MaxPrice != nil && !priceWithinBudget(c, q) {
			continue
		}
		if q.AddressPrefix != "" && !hasPrefix(c.PaymentAddress, q.AddressPrefix) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsAgentType(types []AgentType, t AgentType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func priceWithinBudget(c *Capability, q Query) bool {
	if len(q.RequiredKinds) > 0 {
		for _, k := range q.RequiredKinds {
			price, ok := c.Pricing[k]
			if !ok || price.Amount.Cmp(q.MaxPrice) > 0 {
				return false
			}
		}
		return true
	}
	for _, price := range c.Pricing {
		if price.Amount.Cmp(q.MaxPrice) <= 0 {
			return true
		}
	}
	return false
}

// sumPriceOverKinds sums pricing amounts over the required kinds; returns
// (sum, true) only if every required kind has a price.
func sumPriceOverKinds(c *Capability, kinds []int) (*big.Int, bool) {
	sum := big.NewInt(0)
	for _, k := range kinds {
		price, ok := c.Pricing[k]
		if !ok {
			return nil, false
		}
		sum.Add(sum, price.Amount)
	}
	return sum, true
}

func rankCapabilities(caps []*Capability, q Query) {
	sort.SliceStable(caps, func(i, j int) bool {
		a, b := caps[i], caps[j]
		if len(q.RequiredKinds) > 0 {
			sumA, okA := sumPriceOverKinds(a, q.RequiredKinds)
			sumB, okB := sumPriceOverKinds(b, q.RequiredKinds)
			if okA != okB {
				return okA
			}
			if okA && okB {
				if cmp := sumA.Cmp(sumB); cmp != 0 {
					return cmp < 0
				}
			}
		}
		capA, capB := capacityOf(a), capacityOf(b)
		if capA != capB {
			return capA > capB
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return false
	})
}

func capacityOf(c *Capability) int {
	if c.Capacity == nil {
		return 0
	}
	return c.Capacity.MaxConcurrent
}
