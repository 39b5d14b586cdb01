package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is an ordered level: Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Escalate returns the next level up, capped at Critical.
func (s Severity) Escalate() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// ParseSeverity accepts the level names case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FindingKind separates threats (hostile intent) from anomalies (odd but
// not necessarily hostile traffic).
type FindingKind string

const (
	KindThreat  FindingKind = "threat"
	KindAnomaly FindingKind = "anomaly"
)

// MaxAffectedFrames bounds Finding.AffectedFrames.
const MaxAffectedFrames = 100

// Finding is a threat or anomaly record produced by one detector
// invocation. It is never mutated after being returned.
type Finding struct {
	ID             string         `json:"id"`
	Kind           FindingKind    `json:"kind"`
	Detector       string         `json:"detector"`
	Type           string         `json:"type"`
	Category       string         `json:"category"`
	Severity       Severity       `json:"severity"`
	DetectedAt     time.Time      `json:"detected_at"`
	SourceIP       string         `json:"source_ip,omitempty"`
	DestinationIP  string         `json:"destination_ip,omitempty"`
	Evidence       map[string]any `json:"evidence"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation"`
	AffectedFrames []int64        `json:"affected_frames,omitempty"`
}

// Report is the full output of one analysis run.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Duration    time.Duration       `json:"duration"`
	Statistics  AggregateStatistics `json:"statistics"`
	Series      TimeSeries          `json:"series"`
	Findings    []Finding           `json:"findings"`
	Errors      []string            `json:"errors,omitempty"`
}

// CountBySeverity tallies findings per severity level.
func (r *Report) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int, 4)
	for _, f := range r.Findings {
		out[f.Severity]++
	}
	return out
}
