package model

import "context"

// LocationLookup resolves addresses to geographic attributes.
type LocationLookup interface {
	IsPublic(address string) bool
	Lookup(ctx context.Context, address string) (Location, error)
	IsHighRisk(countryCode string) bool
}
