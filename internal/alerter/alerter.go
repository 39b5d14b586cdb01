package alerter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/gomarkdown/markdown"
	"go.uber.org/zap"
)

const (
	defaultAITimeout = 60 * time.Second
	// maxListed bounds the findings spelled out in one notification.
	maxListed = 50
)

// Alerter sends one consolidated notification per report for the findings
// at or above a minimum severity, optionally followed by an AI analysis.
type Alerter struct {
	minSeverity model.Severity
	notifier    model.Notifier
	analyst     model.Analyzer
	aiTimeout   time.Duration
	logger      *zap.Logger
}

// NewAlerter creates a new Alerter. analyst may be nil.
func NewAlerter(cfg *config.AlerterConfig, aiTimeout string, notifier model.Notifier, analyst model.Analyzer, logger *zap.Logger) (*Alerter, error) {
	minSeverity, err := model.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		return nil, fmt.Errorf("invalid min_severity for alerter: %w", err)
	}
	if notifier == nil {
		return nil, fmt.Errorf("alerter requires a notifier")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Alerter{
		minSeverity: minSeverity,
		notifier:    notifier,
		aiTimeout:   config.Duration(aiTimeout, defaultAITimeout),
		logger:      logger.Named("alerter"),
	}
	if cfg.AIAnalysis.Enabled {
		a.analyst = analyst
	}
	return a, nil
}

// Select returns the findings at or above the minimum severity.
func (a *Alerter) Select(findings []model.Finding) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if f.Severity >= a.minSeverity {
			out = append(out, f)
		}
	}
	return out
}

// Notify evaluates the report and sends a notification when anything
// qualifies. It reports whether a notification was sent.
func (a *Alerter) Notify(ctx context.Context, report *model.Report) (bool, error) {
	selected := a.Select(report.Findings)
	if len(selected) == 0 {
		return false, nil
	}
	a.logger.Info("alert triggered", zap.Int("findings", len(selected)))

	summary := Summary(selected)
	body := "<h1>Go2NetSentinel Alert Summary</h1>" + string(markdown.ToHTML([]byte(summary), nil, nil))

	if analysis, err := a.analysis(ctx, summary); err != nil {
		a.logger.Warn("failed to get AI analysis", zap.Error(err))
	} else if analysis != "" {
		html := markdown.ToHTML([]byte(analysis), nil, nil)
		body += "<hr><h2>AI-Powered Analysis</h2>" + string(html)
	}

	subject := fmt.Sprintf("Go2NetSentinel Alert Summary (%d findings, highest %s)", len(selected), highest(selected))
	if err := a.notifier.Send(subject, body); err != nil {
		return false, fmt.Errorf("failed to send consolidated alert notification: %w", err)
	}
	a.logger.Info("consolidated alert notification sent")
	return true, nil
}

func (a *Alerter) analysis(ctx context.Context, summary string) (string, error) {
	if a.analyst == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.aiTimeout)
	defer cancel()
	return a.analyst.AnalyzeFindings(ctx, summary)
}

func highest(findings []model.Finding) model.Severity {
	top := model.SeverityLow
	for _, f := range findings {
		if f.Severity > top {
			top = f.Severity
		}
	}
	return top
}

// Summary renders findings as markdown, one section per finding.
func Summary(findings []model.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d finding(s) require attention.\n\n", len(findings))
	for i, f := range findings {
		if i == maxListed {
			fmt.Fprintf(&b, "_%d more not shown._\n", len(findings)-i)
			break
		}
		fmt.Fprintf(&b, "## [%s] %s\n\n", f.Severity, f.Type)
		fmt.Fprintf(&b, "- **Detector:** %s (%s)\n", f.Detector, f.Kind)
		if f.SourceIP != "" || f.DestinationIP != "" {
			fmt.Fprintf(&b, "- **Traffic:** %s -> %s\n", orDash(f.SourceIP), orDash(f.DestinationIP))
		}
		fmt.Fprintf(&b, "- **Detected at:** %s\n", f.DetectedAt.UTC().Format(time.RFC3339))
		if f.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", f.Description)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(&b, "\n> %s\n", f.Recommendation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
