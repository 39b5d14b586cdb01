package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/engine/aggregation"
	"Go2NetSentinel/internal/engine/timeseries"
	"Go2NetSentinel/internal/enrichment"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// maxReportedErrors bounds Report.Errors; the rest are counted.
const maxReportedErrors = 20

// Observer receives one call per completed analysis.
type Observer interface {
	ObserveAnalysis(packets int, elapsed time.Duration, findings []model.Finding)
}

// Metrics observes both whole analyses and individual detectors.
type Metrics interface {
	Observer
	detector.Observer
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	lookup  model.LocationLookup
	metrics Metrics
}

// WithLocationLookup enables endpoint and conversation enrichment.
func WithLocationLookup(l model.LocationLookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithMetrics reports analysis and detector timings to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Pipeline runs aggregation, detection and time series over one packet
// collection and assembles a Report.
type Pipeline struct {
	aggregator *aggregation.Engine
	series     *timeseries.Engine
	runner     *detector.Runner
	enricher   *enrichment.Coordinator
	observer   Observer

	interval  time.Duration
	colors    map[string]string
	wellKnown map[int]string
	logger    *zap.Logger
}

// NewPipeline builds the enabled detectors and engines from cfg.
func NewPipeline(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	detectors, err := detector.Build(&cfg.Detectors, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build detectors: %w", err)
	}

	var detObserver detector.Observer
	p := &Pipeline{
		aggregator: aggregation.NewEngine(logger, cfg.Analysis.TopN, cfg.Analysis.TopProtocols),
		series:     timeseries.NewEngine(logger),
		interval:   cfg.Analysis.IntervalDuration(),
		colors:     cfg.Analysis.ProtocolColors,
		wellKnown:  cfg.Analysis.PortMap(),
		logger:     logger.Named("pipeline"),
	}
	if o.metrics != nil {
		p.observer = o.metrics
		detObserver = o.metrics
	}
	p.runner = detector.NewRunner(detectors, logger, detObserver)
	if o.lookup != nil && cfg.Enrichment.Enabled {
		p.enricher = enrichment.NewCoordinator(o.lookup, cfg.Enrichment.MaxParallel, logger)
	}
	return p, nil
}

// Detectors lists the names of the detectors this pipeline runs.
func (p *Pipeline) Detectors() []string {
	var names []string
	for _, d := range p.runner.Detectors() {
		names = append(names, d.Name())
	}
	return names
}

// Analyze produces a report for packets. The slice is shared read-only by
// the concurrent stages. An error is returned only when ctx ends first.
func (p *Pipeline) Analyze(ctx context.Context, packets []model.PacketRecord) (*model.Report, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis not started: %w", err)
	}

	var (
		wg          sync.WaitGroup
		stats       model.AggregateStatistics
		enrichErrs  []error
		findings    []model.Finding
		detectorErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stats = p.aggregator.Aggregate(packets, p.colors, p.wellKnown)
		if p.enricher != nil {
			stats.RankedStatistics, enrichErrs = p.enricher.Enrich(ctx, stats.RankedStatistics)
		}
	}()
	go func() {
		defer wg.Done()
		findings, detectorErr = p.runner.Run(ctx, packets)
	}()
	wg.Wait()

	if detectorErr != nil {
		return nil, detectorErr
	}
	if findings == nil {
		findings = []model.Finding{}
	}

	report := &model.Report{
		GeneratedAt: start.UTC(),
		Statistics:  stats,
		Series:      p.series.Generate(packets, p.interval, findings),
		Findings:    findings,
	}
	for i, err := range enrichErrs {
		if i == maxReportedErrors {
			report.Errors = append(report.Errors, fmt.Sprintf("%d more enrichment errors", len(enrichErrs)-i))
			break
		}
		report.Errors = append(report.Errors, err.Error())
	}
	report.Duration = time.Since(start)

	if p.observer != nil {
		p.observer.ObserveAnalysis(len(packets), report.Duration, findings)
	}
	p.logger.Info("analysis complete",
		zap.Int("packets", len(packets)),
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", report.Duration))
	return report, nil
}
