package sink

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// TimestampLayout names report directories.
const TimestampLayout = "2006-01-02_15-04-05"

const (
	summaryFile  = "summary.json"
	findingsFile = "findings.gob"
)

// Summary is the metadata written next to each report's findings.
type Summary struct {
	Timestamp   string                    `json:"timestamp"`
	GeneratedAt time.Time                 `json:"generated_at"`
	DurationMs  int64                     `json:"duration_ms"`
	Findings    int                       `json:"findings"`
	BySeverity  map[string]int            `json:"by_severity"`
	Statistics  model.AggregateStatistics `json:"statistics"`
	Errors      []string                  `json:"errors,omitempty"`
}

// FileWriter writes each report into a timestamped directory under
// rootPath: summary.json always, findings.gob when there are findings.
type FileWriter struct {
	rootPath string
	logger   *zap.Logger
}

// NewFileWriter creates a new file writer.
func NewFileWriter(rootPath string, logger *zap.Logger) *FileWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWriter{rootPath: rootPath, logger: logger.Named("file-writer")}
}

func (w *FileWriter) Name() string { return "file" }

// Write serializes report under rootPath/timestamp.
func (w *FileWriter) Write(_ context.Context, report *model.Report, timestamp string) error {
	// 1. Create the timestamped directory
	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	// 2. Write the findings, skipping empty reports
	if len(report.Findings) > 0 {
		path := filepath.Join(dir, findingsFile)
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create findings file '%s': %w", path, err)
		}
		defer file.Close()

		if err := gob.NewEncoder(file).Encode(report.Findings); err != nil {
			return fmt.Errorf("failed to encode findings to gob for file '%s': %w", path, err)
		}
	}

	// 3. Write the summary
	summary := Summary{
		Timestamp:   timestamp,
		GeneratedAt: report.GeneratedAt,
		DurationMs:  report.Duration.Milliseconds(),
		Findings:    len(report.Findings),
		BySeverity:  make(map[string]int),
		Statistics:  report.Statistics,
		Errors:      report.Errors,
	}
	for sev, n := range report.CountBySeverity() {
		summary.BySeverity[sev.String()] = n
	}
	summaryPath := filepath.Join(dir, summaryFile)
	f, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	w.logger.Info("report written", zap.String("dir", dir), zap.Int("findings", len(report.Findings)))
	return nil
}

// ReadFindings decodes a findings.gob file.
func ReadFindings(path string) ([]model.Finding, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings file: %w", err)
	}
	defer file.Close()

	var findings []model.Finding
	if err := gob.NewDecoder(file).Decode(&findings); err != nil {
		return nil, fmt.Errorf("failed to decode findings from '%s': %w", path, err)
	}
	return findings, nil
}

// ReadSummary decodes a summary.json file.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &s, nil
}

var _ model.Writer = (*FileWriter)(nil)
