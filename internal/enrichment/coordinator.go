package enrichment

import (
	"context"
	"fmt"
	"sync"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Placeholder labels.
const (
	PrivateNetwork = "Private Network"
	PrivateCode    = "--"
	Unknown        = "Unknown"
	UnknownCode    = "??"
)

const defaultMaxParallel = 16

// Coordinator attaches locations to endpoint and conversation rows. Lookups
// for distinct public addresses run concurrently, bounded by maxParallel.
type Coordinator struct {
	lookup      model.LocationLookup
	maxParallel int
	logger      *zap.Logger
}

// NewCoordinator creates a coordinator over lookup.
func NewCoordinator(lookup model.LocationLookup, maxParallel int, logger *zap.Logger) *Coordinator {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{lookup: lookup, maxParallel: maxParallel, logger: logger.Named("enrichment")}
}

func privateLocation() model.Location {
	return model.Location{CountryName: PrivateNetwork, CountryCode: PrivateCode, City: PrivateNetwork}
}

func unknownLocation() model.Location {
	return model.Location{CountryName: Unknown, CountryCode: UnknownCode, City: Unknown}
}

// known reports whether loc carries a real country code.
func known(loc *model.Location) bool {
	return loc != nil && loc.CountryCode != "" && loc.CountryCode != UnknownCode && loc.CountryCode != PrivateCode
}

// resolve looks up every distinct address once. Per-address failures become
// the Unknown placeholder and are returned alongside.
func (c *Coordinator) resolve(ctx context.Context, addrs []string) (map[string]model.Location, []error) {
	out := make(map[string]model.Location, len(addrs))
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, c.maxParallel)

	var pending []string
	for _, addr := range addrs {
		if _, seen := out[addr]; seen {
			continue
		}
		if addr == "" {
			out[addr] = unknownLocation()
			continue
		}
		if !c.lookup.IsPublic(addr) {
			out[addr] = privateLocation()
			continue
		}
		out[addr] = unknownLocation()
		pending = append(pending, addr)
	}

	for _, addr := range pending {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("lookup %s panicked: %v", addr, r))
					mu.Unlock()
				}
			}()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("lookup %s: %w", addr, ctx.Err()))
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			loc, err := c.lookup.Lookup(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("lookup %s: %w", addr, err))
				return
			}
			if loc.CountryName == "" {
				loc.CountryName = Unknown
			}
			if loc.CountryCode == "" {
				loc.CountryCode = UnknownCode
			}
			if loc.City == "" {
				loc.City = Unknown
			}
			loc.IsHighRisk = c.lookup.IsHighRisk(loc.CountryCode)
			out[addr] = loc
		}(addr)
	}
	wg.Wait()

	if len(errs) > 0 {
		c.logger.Warn("some location lookups failed", zap.Int("failed", len(errs)), zap.Int("addresses", len(out)))
	}
	return out, errs
}

// EnrichEndpoints returns a copy of endpoints with Location set on every
// row. The input slice is not modified.
func (c *Coordinator) EnrichEndpoints(ctx context.Context, endpoints []model.EndpointStat) ([]model.EndpointStat, []error) {
	addrs := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		addrs = append(addrs, e.Address)
	}
	locs, errs := c.resolve(ctx, addrs)

	out := make([]model.EndpointStat, len(endpoints))
	for i, e := range endpoints {
		loc := locs[e.Address]
		e.Location = &loc
		out[i] = e
	}
	return out, errs
}

// EnrichConversations returns a copy of conversations with both endpoint
// locations set. A conversation is cross-border when both countries are
// known and differ, and high-risk when either side is.
func (c *Coordinator) EnrichConversations(ctx context.Context, conversations []model.ConversationStat) ([]model.ConversationStat, []error) {
	addrs := make([]string, 0, 2*len(conversations))
	for _, conv := range conversations {
		addrs = append(addrs, conv.Key.AddressA, conv.Key.AddressB)
	}
	locs, errs := c.resolve(ctx, addrs)

	out := make([]model.ConversationStat, len(conversations))
	for i, conv := range conversations {
		a, b := locs[conv.Key.AddressA], locs[conv.Key.AddressB]
		conv.LocationA, conv.LocationB = &a, &b
		conv.IsCrossBorder = known(&a) && known(&b) && a.CountryCode != b.CountryCode
		conv.IsHighRisk = a.IsHighRisk || b.IsHighRisk
		out[i] = conv
	}
	return out, errs
}

// Enrich returns stats with its top endpoints and conversations enriched.
func (c *Coordinator) Enrich(ctx context.Context, stats model.RankedStatistics) (model.RankedStatistics, []error) {
	endpoints, errs := c.EnrichEndpoints(ctx, stats.TopEndpoints)
	conversations, convErrs := c.EnrichConversations(ctx, stats.TopConversations)
	stats.TopEndpoints = endpoints
	stats.TopConversations = conversations
	return stats, append(errs, convErrs...)
}
