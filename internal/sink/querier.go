package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultQueryLimit = 100

// FindingFilter narrows a findings query. Zero values match everything.
type FindingFilter struct {
	Since       time.Time
	Detector    string
	MinSeverity model.Severity
	Limit       int
}

func (f FindingFilter) limit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	return f.Limit
}

func (f FindingFilter) match(finding *model.Finding) bool {
	if finding.Severity < f.MinSeverity {
		return false
	}
	if f.Detector != "" && finding.Detector != f.Detector {
		return false
	}
	return f.Since.IsZero() || !finding.DetectedAt.Before(f.Since)
}

// Querier reads persisted findings back, newest first.
type Querier interface {
	Findings(ctx context.Context, filter FindingFilter) ([]model.Finding, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(ctx context.Context, cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// buildFindingsQuery returns the statement and its positional arguments.
func buildFindingsQuery(filter FindingFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT ID, Kind, Detector, Type, Category, Severity, DetectedAt,
		       SourceIP, DestinationIP, Description, Recommendation, Evidence, AffectedFrames
		FROM sentinel_findings
	`)

	var where []string
	var args []any
	if !filter.Since.IsZero() {
		where = append(where, "DetectedAt >= ?")
		args = append(args, filter.Since)
	}
	if filter.Detector != "" {
		where = append(where, "Detector = ?")
		args = append(args, filter.Detector)
	}
	if filter.MinSeverity > model.SeverityLow {
		where = append(where, "Severity >= ?")
		args = append(args, uint8(filter.MinSeverity))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY DetectedAt DESC LIMIT ?")
	args = append(args, filter.limit())
	return b.String(), args
}

func (q *clickhouseQuerier) Findings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query, args := buildFindingsQuery(filter)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var (
			f        model.Finding
			kind     string
			severity uint8
			evidence string
		)
		if err := rows.Scan(&f.ID, &kind, &f.Detector, &f.Type, &f.Category, &severity, &f.DetectedAt,
			&f.SourceIP, &f.DestinationIP, &f.Description, &f.Recommendation, &evidence, &f.AffectedFrames); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Kind = model.FindingKind(kind)
		f.Severity = model.Severity(severity)
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence of finding %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// fileQuerier scans the findings written by FileWriter.
type fileQuerier struct {
	rootPath string
}

// NewFileQuerier reads findings.gob files under rootPath.
func NewFileQuerier(rootPath string) Querier {
	return &fileQuerier{rootPath: rootPath}
}

func (q *fileQuerier) Findings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	entries, err := os.ReadDir(q.rootPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	// Directory names sort chronologically; walk newest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })

	var out []model.Finding
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(q.rootPath, e.Name(), findingsFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		findings, err := ReadFindings(path)
		if err != nil {
			return nil, err
		}
		for i := range findings {
			if filter.match(&findings[i]) {
				out = append(out, findings[i])
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}
