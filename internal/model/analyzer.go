package model

import (
	"context"
)

// Analyzer defines the standard interface for an AI analyst that comments on
// a findings summary.
type Analyzer interface {
	// AnalyzeFindings receives a text summary and returns the model's analysis.
	AnalyzeFindings(ctx context.Context, summary string) (string, error)
}
