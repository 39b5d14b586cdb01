package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/oschwald/geoip2-golang"
)

// ErrNotFound is returned when a provider has no record for an address.
var ErrNotFound = errors.New("location not found")

// Provider resolves a single address to a location.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip netip.Addr) (model.Location, error)
	Close() error
}

// GeoIPProvider reads a MaxMind City or Country database.
type GeoIPProvider struct {
	name string
	db   *geoip2.Reader
	city bool
}

// OpenGeoIP opens the database at path.
func OpenGeoIP(name, path string) (*GeoIPProvider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database %s: %w", path, err)
	}
	return &GeoIPProvider{
		name: name,
		db:   db,
		city: strings.Contains(db.Metadata().DatabaseType, "City"),
	}, nil
}

func (g *GeoIPProvider) Name() string { return g.name }

func (g *GeoIPProvider) Lookup(_ context.Context, ip netip.Addr) (model.Location, error) {
	addr := net.IP(ip.AsSlice())
	if g.city {
		record, err := g.db.City(addr)
		if err != nil {
			return model.Location{}, fmt.Errorf("city lookup for %s: %w", ip, err)
		}
		if record.Country.IsoCode == "" {
			return model.Location{}, ErrNotFound
		}
		return model.Location{
			CountryName: record.Country.Names["en"],
			CountryCode: record.Country.IsoCode,
			City:        record.City.Names["en"],
		}, nil
	}

	record, err := g.db.Country(addr)
	if err != nil {
		return model.Location{}, fmt.Errorf("country lookup for %s: %w", ip, err)
	}
	if record.Country.IsoCode == "" {
		return model.Location{}, ErrNotFound
	}
	return model.Location{
		CountryName: record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
	}, nil
}

func (g *GeoIPProvider) Close() error {
	return g.db.Close()
}

type staticEntry struct {
	prefix netip.Prefix
	loc    model.Location
}

// StaticProvider answers from a fixed CIDR table, longest prefix first.
type StaticProvider struct {
	name    string
	entries []staticEntry
}

// NewStaticProvider builds a provider from configured entries.
func NewStaticProvider(name string, entries []config.StaticEntry) (*StaticProvider, error) {
	p := &StaticProvider{name: name}
	for _, e := range entries {
		prefix, err := netip.ParsePrefix(e.CIDR)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid cidr %q: %w", name, e.CIDR, err)
		}
		p.entries = append(p.entries, staticEntry{
			prefix: prefix.Masked(),
			loc:    model.Location{CountryName: e.CountryName, CountryCode: e.CountryCode, City: e.City},
		})
	}
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].prefix.Bits() > p.entries[j].prefix.Bits()
	})
	return p, nil
}

func (s *StaticProvider) Name() string { return s.name }

func (s *StaticProvider) Lookup(ctx context.Context, ip netip.Addr) (model.Location, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, err
	}
	ip = ip.Unmap()
	for _, e := range s.entries {
		if e.prefix.Contains(ip) {
			return e.loc, nil
		}
	}
	return model.Location{}, ErrNotFound
}

func (s *StaticProvider) Close() error { return nil }
