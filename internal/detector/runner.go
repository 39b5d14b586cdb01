package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Observer receives per-detector timings. The metrics package implements it.
type Observer interface {
	ObserveDetector(name string, elapsed time.Duration, findings int, failed bool)
}

// Runner fans a packet collection out to a fixed set of detectors.
type Runner struct {
	detectors []model.Detector
	logger    *zap.Logger
	observer  Observer
}

// NewRunner creates a runner. observer may be nil.
func NewRunner(detectors []model.Detector, logger *zap.Logger, observer Observer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{detectors: detectors, logger: logger.Named("runner"), observer: observer}
}

// Detectors returns the detectors the runner dispatches to.
func (r *Runner) Detectors() []model.Detector {
	return r.detectors
}

// Run invokes every detector whose CanDetect passes, concurrently over the
// same read-only packets. Results are ordered by detector, then by severity
// (highest first). A panicking detector contributes nothing. Detectors that
// have not started when ctx is cancelled are skipped, and the context error
// is returned alongside whatever finished.
func (r *Runner) Run(ctx context.Context, packets []model.PacketRecord) ([]model.Finding, error) {
	results := make([][]model.Finding, len(r.detectors))
	var wg sync.WaitGroup

	for i, d := range r.detectors {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, d model.Detector) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			results[i] = r.runOne(d, packets)
		}(i, d)
	}
	wg.Wait()

	var findings []model.Finding
	for _, res := range results {
		sort.SliceStable(res, func(a, b int) bool { return res[a].Severity > res[b].Severity })
		findings = append(findings, res...)
	}
	if err := ctx.Err(); err != nil {
		return findings, fmt.Errorf("detection interrupted: %w", err)
	}
	return findings, nil
}

func (r *Runner) runOne(d model.Detector, packets []model.PacketRecord) (out []model.Finding) {
	start := time.Now()
	failed := false
	defer func() {
		if rec := recover(); rec != nil {
			failed = true
			out = nil
			r.logger.Error("detector failed",
				zap.String("detector", d.Name()),
				zap.Error(fmt.Errorf("panic: %v", rec)))
		}
		if r.observer != nil {
			r.observer.ObserveDetector(d.Name(), time.Since(start), len(out), failed)
		}
	}()

	if !d.CanDetect(packets) {
		r.logger.Debug("detector skipped", zap.String("detector", d.Name()))
		return nil
	}
	out = d.Detect(packets)
	r.logger.Debug("detector finished",
		zap.String("detector", d.Name()),
		zap.Int("findings", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out
}
