package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Second

type link struct {
	provider Provider
	priority int
	retries  int
	delay    time.Duration
	timeout  time.Duration
}

// Chain implements model.LocationLookup over a priority-ordered list of
// providers, each with its own retry count, retry delay and timeout.
type Chain struct {
	links    []link
	highRisk map[string]bool
	logger   *zap.Logger
}

// Option adds a provider to a chain built by hand.
type Option func(*Chain)

// WithProvider appends p with the given policy.
func WithProvider(p Provider, priority, retries int, delay, timeout time.Duration) Option {
	return func(c *Chain) {
		c.links = append(c.links, link{provider: p, priority: priority, retries: retries, delay: delay, timeout: timeout})
	}
}

// NewChain creates a chain from explicit providers.
func NewChain(highRiskCountries []string, logger *zap.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{highRisk: make(map[string]bool), logger: logger.Named("geo")}
	for _, code := range highRiskCountries {
		c.highRisk[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	sort.SliceStable(c.links, func(i, j int) bool { return c.links[i].priority < c.links[j].priority })
	return c
}

// FromConfig opens every enabled provider in cfg.Providers.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Chain, error) {
	var opts []Option
	var opened []Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		var (
			p   Provider
			err error
		)
		switch pc.Type {
		case config.ProviderGeoIP2:
			p, err = OpenGeoIP(pc.Name, pc.DatabasePath)
		case config.ProviderStatic:
			p, err = NewStaticProvider(pc.Name, pc.Entries)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return nil, fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}
		opened = append(opened, p)
		opts = append(opts, WithProvider(p, pc.Priority, pc.RetryCount,
			config.Duration(pc.RetryDelay, 0), config.Duration(pc.Timeout, defaultTimeout)))
	}
	return NewChain(cfg.Enrichment.HighRiskCountries, logger, opts...), nil
}

// IsPublic reports whether addr is a routable unicast address.
func (c *Chain) IsPublic(addr string) bool {
	return IsPublic(addr)
}

// IsPublic reports whether addr is a routable unicast address. Loopback,
// private (including ULA), link-local, multicast, unspecified and CGNAT
// ranges are not.
func IsPublic(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast() {
		return false
	}
	if ip.Is4() && cgnat.Contains(ip) {
		return false
	}
	return true
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// IsHighRisk reports whether the country code is on the configured list.
func (c *Chain) IsHighRisk(countryCode string) bool {
	return c.highRisk[strings.ToUpper(countryCode)]
}

// Lookup walks the providers in priority order. A provider that has no
// record is skipped at once; other failures are retried up to the
// provider's retry count with its retry delay in between.
func (c *Chain) Lookup(ctx context.Context, addr string) (model.Location, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return model.Location{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(c.links) == 0 {
		return model.Location{}, errors.New("no location provider configured")
	}

	var errs []error
	for _, l := range c.links {
		for attempt := 0; attempt <= l.retries; attempt++ {
			if attempt > 0 && l.delay > 0 {
				select {
				case <-ctx.Done():
					return model.Location{}, ctx.Err()
				case <-time.After(l.delay):
				}
			}
			loc, err := c.attempt(ctx, l, ip)
			if err == nil {
				return loc, nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", l.provider.Name(), err))
			if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				break
			}
			c.logger.Debug("location lookup failed",
				zap.String("provider", l.provider.Name()),
				zap.String("address", addr),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return model.Location{}, ctx.Err()
		}
	}
	return model.Location{}, errors.Join(errs...)
}

// attempt runs one provider call bounded by the provider timeout.
func (c *Chain) attempt(ctx context.Context, l link, ip netip.Addr) (model.Location, error) {
	timeout := l.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		loc model.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := l.provider.Lookup(ctx, ip)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		return r.loc, r.err
	case <-ctx.Done():
		return model.Location{}, ctx.Err()
	}
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, l := range c.links {
		if err := l.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ model.LocationLookup = (*Chain)(nil)
