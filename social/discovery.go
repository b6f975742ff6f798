// Package social implements k-hop (k <= 2) expansion over a follow graph,
// distance-ranked peer selection (spec §4.8).
package social

import (
	"context"
	"sort"

	"golang.org/x/time/rate"

	"agentconnector/capability"
	"agentconnector/record"
	"agentconnector/transport"
)

type cacheGetter interface {
	Get(pubkey string) (*capability.Capability, bool)
	Set(pubkey string, capability *capability.Capability)
}

type discoveryLogger interface {
	Warn(msg string, args ...any)
}

// Options controls a single discovery call.
type Options struct {
	ExtendedHops bool
	Limit        int
	UseCache     bool
}

// Result is one discovered peer, ranked by social distance.
type Result struct {
	Pubkey        string
	PaymentAddr   string
	Capability    *capability.Capability
	SocialDistance int
}

// Discovery resolves capable peers by walking the follow graph outward
// from the caller.
type Discovery struct {
	router  transport.FollowGraphRouter
	service *capability.Service
	log     discoveryLogger
	limiter *rate.Limiter
}

// NewDiscovery constructs a discovery engine. ratePerSecond paces 2-hop
// fan-out so a large follow graph doesn't thunder the event store; 0
// disables pacing.
func NewDiscovery(router transport.FollowGraphRouter, service *capability.Service, log discoveryLogger, ratePerSecond float64) *Discovery {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Discovery{router: router, service: service, log: log, limiter: limiter}
}

func (d *Discovery) warn(msg string, args ...any) {
	if d.log != nil {
		d.log.Warn(msg, args...)
	}
}

// DiscoverForKind walks the caller's direct follows (and, if requested,
// their follows in turn) looking for peers whose capability advertisement
// supports requiredKind. Results are stably sorted by ascending social
// distance and truncated to opts.Limit. Any failure in the 2-hop phase is
// logged and degrades to 1-hop-only results (spec §4.8, §7).
func (d *Discovery) DiscoverForKind(ctx context.Context, self string, requiredKind int, opts Options, cache cacheGetter) ([]Result, error) {
	follows, err := d.router.ListFollows(ctx)
	if err != nil {
		return nil, record.Wrap(record.TransportFailure, err, "list follows")
	}

	var results []Result
	directSet := make(map[string]struct{}, len(follows))
	for _, f := range follows {
		if f.Pubkey == self {
			continue
		}
		directSet[f.Pubkey] = struct{}{}
	}

	for _, f := range follows {
		if f.Pubkey == self {
			continue
		}
		if opts.Limit > 0 && len(results) >= opts.Limit {
			return finalize(results, opts), nil
		}
		cap, ok := d.lookup(ctx, f.Pubkey, requiredKind, opts.UseCache, cache)
		if !ok {
			continue
		}
		results = append(results, Result{
			Pubkey:         f.Pubkey,
			PaymentAddr:    f.PaymentAddr,
			Capability:     cap,
			SocialDistance: 1,
		})
	}

	if opts.ExtendedHops && (opts.Limit == 0 || len(results) < opts.Limit) {
		extended, err := d.twoHop(ctx, self, requiredKind, opts, cache, directSet)
		if err != nil {
			d.warn("social discovery: 2-hop expansion failed, degrading to 1-hop", "err", err)
		} else {
			results = append(results, extended...)
		}
	}

	return finalize(results, opts), nil
}

func (d *Discovery) twoHop(ctx context.Context, self string, requiredKind int, opts Options, cache cacheGetter, directSet map[string]struct{}) ([]Result, error) {
	follows, err := d.router.ListFollows(ctx)
	if err != nil {
		return nil, err
	}

	candidateSet := make(map[string]struct{})
	for _, f := range follows {
		secondHops, err := d.extractFollowReferences(ctx, f.Pubkey)
		if err != nil {
			return nil, err
		}
		for _, pk := range secondHops {
			if pk == self {
				continue
			}
			if _, direct := directSet[pk]; direct {
				continue
			}
			candidateSet[pk] = struct{}{}
		}
	}

	var out []Result
	for pk := range candidateSet {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return out, err
			}
		}
		cap, ok := d.lookup(ctx, pk, requiredKind, opts.UseCache, cache)
		if !ok {
			continue
		}
		paymentAddr := ""
		if follow, found, err := d.router.LookupByPubkey(ctx, pk); err == nil && found {
			paymentAddr = follow.PaymentAddr
		}
		out = append(out, Result{
			Pubkey:         pk,
			PaymentAddr:    paymentAddr,
			Capability:     cap,
			SocialDistance: 2,
		})
	}
	return out, nil
}

// extractFollowReferences resolves the set of pubkeys a given pubkey
// follows, via FollowsOf's forward lookup (not LookupByPubkey, which
// answers the reverse question of who follows pubkey).
func (d *Discovery) extractFollowReferences(ctx context.Context, pubkey string) ([]string, error) {
	follows, err := d.router.FollowsOf(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(follows))
	for _, f := range follows {
		out = append(out, f.Pubkey)
	}
	return out, nil
}

func (d *Discovery) lookup(ctx context.Context, pubkey string, requiredKind int, useCache bool, cache cacheGetter) (*capability.Capability, bool) {
	if useCache && cache != nil {
		if cap, ok := cache.Get(pubkey); ok {
			if cap.SupportsKind(requiredKind) {
				return cap, true
			}
			return nil, false
		}
	}
	caps, err := d.service.Run(ctx, capability.Query{Pubkeys: []string{pubkey}, RequiredKinds: []int{requiredKind}, Limit: 1})
	if err != nil || len(caps) == 0 {
		return nil, false
	}
	if useCache && cache != nil {
		cache.Set(pubkey, caps[0])
	}
	if !caps[0].SupportsKind(requiredKind) {
		return nil, false
	}
	return caps[0], true
}

func finalize(results []Result, opts Options) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SocialDistance < results[j].SocialDistance
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}
