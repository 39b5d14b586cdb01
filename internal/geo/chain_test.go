package geo

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

type flakyProvider struct {
	name     string
	failures int32
	calls    atomic.Int32
	loc      model.Location
	block    bool
}

func (f *flakyProvider) Name() string { return f.name }
func (f *flakyProvider) Close() error { return nil }
func (f *flakyProvider) Lookup(ctx context.Context, _ netip.Addr) (model.Location, error) {
	n := f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return model.Location{}, ctx.Err()
	}
	if n <= f.failures {
		return model.Location{}, errors.New("temporary failure")
	}
	return f.loc, nil
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"8.8.8.8", true},
		{"2001:4860:4860::8888", true},
		{"10.1.2.3", false},
		{"192.168.0.1", false},
		{"172.20.0.1", false},
		{"127.0.0.1", false},
		{"169.254.1.1", false},
		{"224.0.0.251", false},
		{"0.0.0.0", false},
		{"100.64.0.1", false},
		{"fd00::1", false},
		{"fe80::1", false},
		{"::ffff:10.0.0.1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsPublic(tt.addr); got != tt.want {
				t.Errorf("IsPublic(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestStaticProvider_LongestPrefix(t *testing.T) {
	p, err := NewStaticProvider("static", []config.StaticEntry{
		{CIDR: "203.0.0.0/8", CountryName: "Wide", CountryCode: "WW"},
		{CIDR: "203.0.113.0/24", CountryName: "Narrow", CountryCode: "NN", City: "Town"},
	})
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}

	loc, err := p.Lookup(context.Background(), netip.MustParseAddr("203.0.113.7"))
	if err != nil || loc.CountryCode != "NN" || loc.City != "Town" {
		t.Errorf("Expected the /24 entry, got %+v, %v", loc, err)
	}
	loc, err = p.Lookup(context.Background(), netip.MustParseAddr("203.9.9.9"))
	if err != nil || loc.CountryCode != "WW" {
		t.Errorf("Expected the /8 entry, got %+v, %v", loc, err)
	}
	if _, err := p.Lookup(context.Background(), netip.MustParseAddr("8.8.8.8")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if _, err := NewStaticProvider("bad", []config.StaticEntry{{CIDR: "nope"}}); err == nil {
		t.Error("Expected an error for an invalid cidr")
	}
}

func TestChain_PriorityAndRetry(t *testing.T) {
	// 1. The lower priority number is tried first and retried until it succeeds.
	first := &flakyProvider{name: "first", failures: 2, loc: model.Location{CountryCode: "DE"}}
	second := &flakyProvider{name: "second", loc: model.Location{CountryCode: "FR"}}
	c := NewChain(nil, nil,
		WithProvider(second, 2, 0, 0, time.Second),
		WithProvider(first, 1, 2, time.Millisecond, time.Second),
	)
	loc, err := c.Lookup(context.Background(), "8.8.8.8")
	if err != nil || loc.CountryCode != "DE" {
		t.Fatalf("Expected DE from the first provider, got %+v, %v", loc, err)
	}
	if first.calls.Load() != 3 || second.calls.Load() != 0 {
		t.Errorf("Expected 3 calls to first and none to second, got %d and %d", first.calls.Load(), second.calls.Load())
	}

	// 2. When retries run out the chain falls through to the next provider.
	exhausted := &flakyProvider{name: "exhausted", failures: 10}
	c = NewChain(nil, nil,
		WithProvider(exhausted, 1, 1, 0, time.Second),
		WithProvider(second, 2, 0, 0, time.Second),
	)
	loc, err = c.Lookup(context.Background(), "8.8.8.8")
	if err != nil || loc.CountryCode != "FR" {
		t.Fatalf("Expected FR from the fallback provider, got %+v, %v", loc, err)
	}
	if exhausted.calls.Load() != 2 {
		t.Errorf("Expected 2 attempts on the failing provider, got %d", exhausted.calls.Load())
	}
}

func TestChain_TimeoutAndErrors(t *testing.T) {
	slow := &flakyProvider{name: "slow", block: true}
	c := NewChain(nil, nil, WithProvider(slow, 1, 0, 0, 20*time.Millisecond))
	if _, err := c.Lookup(context.Background(), "8.8.8.8"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected a deadline error, got %v", err)
	}

	if _, err := c.Lookup(context.Background(), "garbage"); err == nil {
		t.Error("Expected an error for an invalid address")
	}
	if _, err := NewChain(nil, nil).Lookup(context.Background(), "8.8.8.8"); err == nil {
		t.Error("Expected an error with no providers")
	}
}

func TestChain_HighRiskAndConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Enrichment.HighRiskCountries = []string{"kp", " IR "}
	cfg.Providers = []config.ProviderConfig{
		{Name: "lab", Type: config.ProviderStatic, Enabled: true, Priority: 1, Timeout: "1s",
			Entries: []config.StaticEntry{{CIDR: "198.51.100.0/24", CountryName: "Lab", CountryCode: "LB"}}},
		{Name: "off", Type: config.ProviderGeoIP2, Enabled: false, Priority: 2, DatabasePath: "/missing.mmdb"},
	}

	c, err := FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	defer c.Close()

	if !c.IsHighRisk("KP") || !c.IsHighRisk("ir") || c.IsHighRisk("US") {
		t.Error("High-risk set not normalised")
	}
	loc, err := c.Lookup(context.Background(), "198.51.100.10")
	if err != nil || loc.CountryCode != "LB" {
		t.Errorf("Expected LB, got %+v, %v", loc, err)
	}

	cfg.Providers[1].Enabled = true
	if _, err := FromConfig(cfg, nil); err == nil {
		t.Error("Expected an error opening a missing GeoIP database")
	}
}
