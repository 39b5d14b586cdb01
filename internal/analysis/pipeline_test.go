package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/geo"
	"Go2NetSentinel/internal/model"
)

type countingMetrics struct {
	mu        sync.Mutex
	analyses  int
	detectors map[string]int
}

func (c *countingMetrics) ObserveAnalysis(int, time.Duration, []model.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyses++
}

func (c *countingMetrics) ObserveDetector(name string, _ time.Duration, _ int, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detectors[name]++
}

func portScanPackets() []model.PacketRecord {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]model.PacketRecord, 600)
	for i := range out {
		out[i] = model.PacketRecord{
			FrameNumber: int64(i + 1),
			Timestamp:   start.Add(time.Duration(i) * 5 * time.Millisecond),
			SrcIP:       "1.2.3.4",
			DstIP:       "5.6.7.8",
			SrcPort:     40000,
			DstPort:     i + 1,
			Protocol:    "TCP",
			Length:      60,
		}
	}
	return out
}

func TestPipeline_Analyze(t *testing.T) {
	// 1. Configure a pipeline with a static location table and metrics.
	cfg := config.Default()
	cfg.Enrichment.Enabled = true
	static, err := geo.NewStaticProvider("lab", []config.StaticEntry{
		{CIDR: "1.2.3.0/24", CountryName: "Australia", CountryCode: "AU"},
		{CIDR: "5.6.7.0/24", CountryName: "United States", CountryCode: "US"},
	})
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}
	chain := geo.NewChain(nil, nil, geo.WithProvider(static, 1, 0, 0, time.Second))
	metrics := &countingMetrics{detectors: map[string]int{}}

	p, err := NewPipeline(cfg, nil, WithLocationLookup(chain), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if len(p.Detectors()) != 9 {
		t.Errorf("Expected 9 detectors, got %v", p.Detectors())
	}

	// 2. Analyze a fast port scan.
	report, err := p.Analyze(context.Background(), portScanPackets())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// 3. Statistics, series and findings are all present.
	if report.Statistics.TotalPackets != 600 || report.Statistics.UniqueDestPorts != 600 {
		t.Errorf("Unexpected statistics: %+v", report.Statistics.BasicStatistics)
	}
	if report.Series.Empty() {
		t.Error("Expected a non-empty time series")
	}
	var scans []model.Finding
	for _, f := range report.Findings {
		if f.Type == "Port Scan" {
			scans = append(scans, f)
		}
	}
	if len(scans) != 1 || scans[0].Severity != model.SeverityCritical {
		t.Fatalf("Expected one Critical port scan, got %+v", scans)
	}

	// 4. Conversations are enriched with both locations.
	if len(report.Statistics.TopConversations) == 0 {
		t.Fatal("Expected conversations")
	}
	conv := report.Statistics.TopConversations[0]
	if conv.LocationA == nil || !conv.IsCrossBorder {
		t.Errorf("Expected an enriched cross-border conversation, got %+v", conv)
	}

	// 5. Metrics saw the analysis and every detector.
	if metrics.analyses != 1 || len(metrics.detectors) != 9 {
		t.Errorf("Unexpected metrics: %d analyses, %v", metrics.analyses, metrics.detectors)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	p, err := NewPipeline(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Analyze(ctx, portScanPackets()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPipeline_EmptyInput(t *testing.T) {
	p, err := NewPipeline(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	report, err := p.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if report.Findings == nil || len(report.Findings) != 0 {
		t.Errorf("Expected an empty, non-nil findings list, got %v", report.Findings)
	}
	if report.Statistics.TotalPackets != 0 || !report.Series.Empty() {
		t.Error("Expected zero statistics and no series")
	}
}

func TestNewPipeline_UnknownDetector(t *testing.T) {
	cfg := config.Default()
	cfg.Detectors.Enabled = []string{"telepathy"}
	if _, err := NewPipeline(cfg, nil); err == nil {
		t.Error("Expected an error for an unknown detector")
	}
}
