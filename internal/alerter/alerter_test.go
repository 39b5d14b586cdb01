package alerter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

type fakeNotifier struct {
	subject, body string
	sent          int
	err           error
}

func (f *fakeNotifier) Send(subject, body string) error {
	f.sent++
	f.subject, f.body = subject, body
	return f.err
}

type fakeAnalyst struct {
	answer string
	err    error
	input  string
}

func (f *fakeAnalyst) AnalyzeFindings(_ context.Context, summary string) (string, error) {
	f.input = summary
	return f.answer, f.err
}

func report() *model.Report {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Report{Findings: []model.Finding{
		{Type: "Port Scan", Detector: "port_scan", Kind: model.KindThreat, Severity: model.SeverityCritical,
			SourceIP: "1.2.3.4", DestinationIP: "5.6.7.8", DetectedAt: at, Description: "600 ports probed",
			Recommendation: "Block the source"},
		{Type: "Anomalous Packet Size", Detector: "anomalous_size", Kind: model.KindAnomaly, Severity: model.SeverityLow, DetectedAt: at},
		{Type: "Suspicious Protocol", Detector: "suspicious_protocol", Kind: model.KindThreat, Severity: model.SeverityMedium, DetectedAt: at},
	}}
}

func TestAlerter_Notify(t *testing.T) {
	// 1. Only findings at or above Medium are included, with AI analysis appended.
	n := &fakeNotifier{}
	ai := &fakeAnalyst{answer: "**Block** the scanner."}
	cfg := &config.AlerterConfig{Enabled: true, MinSeverity: "medium", AIAnalysis: config.AIAnalysisConfig{Enabled: true}}
	a, err := NewAlerter(cfg, "5s", n, ai, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}

	sent, err := a.Notify(context.Background(), report())
	if err != nil || !sent {
		t.Fatalf("Notify = %v, %v", sent, err)
	}
	if !strings.Contains(n.subject, "2 findings") || !strings.Contains(n.subject, "Critical") {
		t.Errorf("Unexpected subject %q", n.subject)
	}
	if !strings.Contains(n.body, "Port Scan") || strings.Contains(n.body, "Anomalous Packet Size") {
		t.Error("Body must list qualifying findings only")
	}
	if !strings.Contains(n.body, "<strong>Block</strong>") {
		t.Error("Expected the AI markdown rendered as HTML")
	}
	if !strings.Contains(ai.input, "1.2.3.4 -> 5.6.7.8") {
		t.Errorf("Expected the summary passed to the analyst, got %q", ai.input)
	}

	// 2. A failing analyst does not block the notification.
	ai.err = errors.New("quota exceeded")
	if sent, err := a.Notify(context.Background(), report()); err != nil || !sent {
		t.Fatalf("Notify with failing analyst = %v, %v", sent, err)
	}
	if strings.Contains(n.body, "AI-Powered Analysis") {
		t.Error("No AI section expected when analysis fails")
	}
}

func TestAlerter_NothingQualifies(t *testing.T) {
	n := &fakeNotifier{}
	a, err := NewAlerter(&config.AlerterConfig{MinSeverity: "Critical"}, "", n, nil, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}
	r := report()
	r.Findings = r.Findings[1:]
	if sent, err := a.Notify(context.Background(), r); err != nil || sent || n.sent != 0 {
		t.Errorf("Expected no notification, got sent=%v err=%v calls=%d", sent, err, n.sent)
	}
}

func TestAlerter_Errors(t *testing.T) {
	if _, err := NewAlerter(&config.AlerterConfig{MinSeverity: "urgent"}, "", &fakeNotifier{}, nil, nil); err == nil {
		t.Error("Expected an error for an unknown severity")
	}
	if _, err := NewAlerter(&config.AlerterConfig{MinSeverity: "High"}, "", nil, nil, nil); err == nil {
		t.Error("Expected an error without a notifier")
	}

	n := &fakeNotifier{err: errors.New("smtp down")}
	a, _ := NewAlerter(&config.AlerterConfig{MinSeverity: "Low"}, "", n, nil, nil)
	if _, err := a.Notify(context.Background(), report()); err == nil {
		t.Error("Expected the notifier error to surface")
	}
}
