package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Go2NetSentinel/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleReport() *model.Report {
	return &model.Report{
		GeneratedAt: t0,
		Duration:    1500 * time.Millisecond,
		Statistics: model.AggregateStatistics{
			BasicStatistics: model.BasicStatistics{TotalPackets: 42, TotalBytes: 4200},
		},
		Series: model.TimeSeries{
			Interval:    time.Second,
			Throughput:  []model.TimeSeriesPoint{{Timestamp: t0, SeriesID: model.SeriesThroughput, Value: 4200}},
			PacketRate:  []model.TimeSeriesPoint{{Timestamp: t0, SeriesID: model.SeriesPacketRate, Value: 42}},
			AnomalyRate: []model.TimeSeriesPoint{{Timestamp: t0, SeriesID: model.SeriesAnomalyRate, Value: 0}},
		},
		Findings: []model.Finding{
			{ID: "a", Kind: model.KindThreat, Detector: "port_scan", Type: "Port Scan", Severity: model.SeverityCritical,
				DetectedAt: t0.Add(time.Minute), Evidence: map[string]any{"UniquePorts": 600, "SamplePorts": []int{1, 2}},
				AffectedFrames: []int64{1, 2, 3}},
			{ID: "b", Kind: model.KindAnomaly, Detector: "anomalous_size", Type: "Anomalous Packet Size", Severity: model.SeverityLow,
				DetectedAt: t0, Evidence: map[string]any{"MeanSize": 80.5}},
		},
	}
}

func TestFileWriter_Write(t *testing.T) {
	// 1. Write a report into a temporary root
	root := t.TempDir()
	w := NewFileWriter(root, nil)
	if err := w.Write(context.Background(), sampleReport(), "2024-05-01_12-00-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dir := filepath.Join(root, "2024-05-01_12-00-00")

	// 2. Verify the summary
	summary, err := ReadSummary(filepath.Join(dir, summaryFile))
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if summary.Findings != 2 || summary.DurationMs != 1500 || summary.Statistics.TotalPackets != 42 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if summary.BySeverity["Critical"] != 1 || summary.BySeverity["Low"] != 1 {
		t.Errorf("Unexpected severity breakdown: %v", summary.BySeverity)
	}

	// 3. Verify the findings decode with their evidence intact
	findings, err := ReadFindings(filepath.Join(dir, findingsFile))
	if err != nil {
		t.Fatalf("ReadFindings failed: %v", err)
	}
	if len(findings) != 2 || findings[0].Severity != model.SeverityCritical {
		t.Fatalf("Unexpected findings: %+v", findings)
	}
	if findings[0].Evidence["UniquePorts"] != 600 {
		t.Errorf("Expected UniquePorts 600, got %v", findings[0].Evidence["UniquePorts"])
	}
	if ports, ok := findings[0].Evidence["SamplePorts"].([]int); !ok || len(ports) != 2 {
		t.Errorf("Expected SamplePorts to survive as []int, got %#v", findings[0].Evidence["SamplePorts"])
	}
}

func TestFileWriter_EmptyReportHasNoFindingsFile(t *testing.T) {
	root := t.TempDir()
	w := NewFileWriter(root, nil)
	if err := w.Write(context.Background(), &model.Report{GeneratedAt: t0}, "2024-05-01_12-00-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dir := filepath.Join(root, "2024-05-01_12-00-00")
	if _, err := os.Stat(filepath.Join(dir, summaryFile)); err != nil {
		t.Errorf("summary.json was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, findingsFile)); !os.IsNotExist(err) {
		t.Error("findings.gob should not exist for an empty report")
	}
}

func TestFileQuerier(t *testing.T) {
	root := t.TempDir()
	w := NewFileWriter(root, nil)
	older := sampleReport()
	newer := sampleReport()
	newer.Findings[0].ID = "c"
	newer.Findings[0].DetectedAt = t0.Add(time.Hour)
	if err := w.Write(context.Background(), older, "2024-05-01_12-00-00"); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(context.Background(), newer, "2024-05-01_13-00-00"); err != nil {
		t.Fatal(err)
	}

	q := NewFileQuerier(root)
	tests := []struct {
		name    string
		filter  FindingFilter
		wantIDs []string
	}{
		{"everything newest first", FindingFilter{}, []string{"c", "a", "b", "b"}},
		{"min severity", FindingFilter{MinSeverity: model.SeverityHigh}, []string{"c", "a"}},
		{"detector", FindingFilter{Detector: "anomalous_size"}, []string{"b", "b"}},
		{"since", FindingFilter{Since: t0.Add(30 * time.Minute)}, []string{"c"}},
		{"limit", FindingFilter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.Findings(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Findings failed: %v", err)
			}
			var ids []string
			for _, f := range got {
				ids = append(ids, f.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("got %v, want %v", ids, tt.wantIDs)
			}
		})
	}

	empty, err := NewFileQuerier(filepath.Join(root, "missing")).Findings(context.Background(), FindingFilter{})
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no findings and no error for a missing root, got %v, %v", empty, err)
	}
}

func TestBuildFindingsQuery(t *testing.T) {
	query, args := buildFindingsQuery(FindingFilter{})
	if strings.Contains(query, "WHERE") || len(args) != 1 || args[0] != defaultQueryLimit {
		t.Errorf("Unexpected unfiltered query: %s %v", query, args)
	}

	query, args = buildFindingsQuery(FindingFilter{Since: t0, Detector: "ddos", MinSeverity: model.SeverityHigh, Limit: 5})
	if !strings.Contains(query, "DetectedAt >= ? AND Detector = ? AND Severity >= ?") {
		t.Errorf("Unexpected filtered query: %s", query)
	}
	if len(args) != 4 || args[1] != "ddos" || args[2] != uint8(model.SeverityHigh) || args[3] != 5 {
		t.Errorf("Unexpected args: %v", args)
	}
}

func TestRows(t *testing.T) {
	r := sampleReport()
	row, err := findingRow(t0, r.Findings[0])
	if err != nil {
		t.Fatalf("findingRow failed: %v", err)
	}
	if len(row) != 14 || row[6] != uint8(model.SeverityCritical) {
		t.Errorf("Unexpected finding row: %v", row)
	}
	if ev, _ := row[12].(string); !strings.Contains(ev, `"UniquePorts":600`) {
		t.Errorf("Expected JSON evidence, got %v", row[12])
	}
	row, _ = findingRow(t0, r.Findings[1])
	if frames, ok := row[13].([]int64); !ok || frames == nil {
		t.Errorf("Expected an empty, non-nil frames column, got %#v", row[13])
	}

	if points := seriesRows(t0, &r.Series); len(points) != 3 {
		t.Errorf("Expected 3 series rows, got %d", len(points))
	}
}
