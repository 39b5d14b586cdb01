package stream

import (
	"context"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// AnalyzeFunc turns one window of packets into a report.
type AnalyzeFunc func(ctx context.Context, packets []model.PacketRecord) (*model.Report, error)

// ReportHandler receives every report produced by a Windower.
type ReportHandler func(ctx context.Context, report *model.Report)

// Windower buffers incoming packets and analyzes them once per window, or
// earlier when the buffer reaches maxPackets. Each analysis sees a fresh,
// disjoint slice.
type Windower struct {
	analyze    AnalyzeFunc
	handlers   []ReportHandler
	window     time.Duration
	maxPackets int
	logger     *zap.Logger

	mu     sync.Mutex
	buffer []model.PacketRecord
	full   chan struct{}
}

// NewWindower creates a windower. Handlers run in order after each analysis.
func NewWindower(analyze AnalyzeFunc, window time.Duration, maxPackets int, logger *zap.Logger, handlers ...ReportHandler) *Windower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Windower{
		analyze:    analyze,
		handlers:   handlers,
		window:     window,
		maxPackets: maxPackets,
		logger:     logger.Named("windower"),
		full:       make(chan struct{}, 1),
	}
}

// Add appends one packet. It is safe for concurrent use and is the
// PacketHandler fed by a Subscriber.
func (w *Windower) Add(p model.PacketRecord) {
	w.mu.Lock()
	w.buffer = append(w.buffer, p)
	full := w.maxPackets > 0 && len(w.buffer) >= w.maxPackets
	w.mu.Unlock()

	if full {
		select {
		case w.full <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every tick and whenever the buffer fills, until ctx ends.
// The remaining buffer is flushed once more on exit.
func (w *Windower) Run(ctx context.Context) {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.full:
			w.Flush(ctx)
		case <-ctx.Done():
			w.Flush(context.WithoutCancel(ctx))
			w.logger.Info("windower stopped")
			return
		}
	}
}

// Flush analyzes whatever is buffered. It returns the report, or nil when
// the buffer was empty or the analysis failed.
func (w *Windower) Flush(ctx context.Context) *model.Report {
	w.mu.Lock()
	packets := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(packets) == 0 {
		return nil
	}

	report, err := w.analyze(ctx, packets)
	if err != nil {
		w.logger.Error("window analysis failed", zap.Int("packets", len(packets)), zap.Error(err))
		return nil
	}
	for _, h := range w.handlers {
		h(ctx, report)
	}
	return report
}

// Pending is the number of buffered packets.
func (w *Windower) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
