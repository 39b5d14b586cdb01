package timeseries

import (
	"fmt"
	"time"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Packet-level anomaly thresholds.
const (
	MinNormalSize        = 64
	MaxNormalSize        = 1500
	smallTCPSize         = 80
	ephemeralPortFloor   = 49152
	maxDenseWindowBucket = 1 << 20
)

// MaxBuckets bounds the dense series length. A span needing more buckets
// (typically one record with a zero or corrupt timestamp) yields an empty
// series instead of an allocation the process cannot survive.
const MaxBuckets = 10_000_000

type bucket struct {
	bytes     int64
	packets   int64
	anomalies int64
}

// Engine buckets packets and findings into fixed-interval series.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a time-series engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("timeseries")}
}

// IsAnomalous flags undersized, oversized, suspicious small high-port TCP
// and ICMP packets.
func IsAnomalous(p *model.PacketRecord) bool {
	switch {
	case p.Length < MinNormalSize, p.Length > MaxNormalSize:
		return true
	case p.IsTransport("TCP") && p.Length < smallTCPSize && p.SrcPort > ephemeralPortFloor && p.DstPort > ephemeralPortFloor:
		return true
	case p.IsTransport("ICMP") || p.IsTransport("ICMPv6"):
		return true
	}
	return false
}

// Bounds returns the earliest and latest timestamps in packets.
func Bounds(packets []model.PacketRecord) (minTime, maxTime time.Time, ok bool) {
	for i := range packets {
		ts := packets[i].Timestamp
		if !ok {
			minTime, maxTime, ok = ts, ts, true
			continue
		}
		if ts.Before(minTime) {
			minTime = ts
		}
		if ts.After(maxTime) {
			maxTime = ts
		}
	}
	return minTime, maxTime, ok
}

// Generate builds the throughput, packet-rate and anomaly-rate series.
// Findings add to the anomaly count of the bucket holding their DetectedAt.
// Empty input or a non-positive interval yields an empty result.
func (e *Engine) Generate(packets []model.PacketRecord, interval time.Duration, findings []model.Finding) (ts model.TimeSeries) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("time series generation failed", zap.Error(fmt.Errorf("panic: %v", r)), zap.Int("packets", len(packets)))
			ts = model.TimeSeries{Interval: interval}
		}
	}()

	ts.Interval = interval
	if interval <= 0 {
		return ts
	}
	minTime, maxTime, ok := Bounds(packets)
	if !ok {
		return ts
	}

	last := int64(maxTime.Sub(minTime) / interval)
	if last < 0 || last >= MaxBuckets {
		e.logger.Error("time span too wide for the series interval",
			zap.Time("min", minTime), zap.Time("max", maxTime),
			zap.Duration("interval", interval), zap.Int64("buckets", last+1))
		return ts
	}

	buckets := make(map[int64]*bucket)
	at := func(t time.Time) *bucket {
		idx := int64(t.Sub(minTime) / interval)
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{}
			buckets[idx] = b
		}
		return b
	}

	for i := range packets {
		p := &packets[i]
		b := at(p.Timestamp)
		b.packets++
		b.bytes += int64(p.Length)
		if IsAnomalous(p) {
			b.anomalies++
		}
	}
	for i := range findings {
		t := findings[i].DetectedAt
		if t.Before(minTime) || t.After(maxTime) {
			continue
		}
		at(t).anomalies++
	}

	seconds := interval.Seconds()
	n := int(last + 1)
	ts.Throughput = make([]model.TimeSeriesPoint, 0, n)
	ts.PacketRate = make([]model.TimeSeriesPoint, 0, n)
	ts.AnomalyRate = make([]model.TimeSeriesPoint, 0, n)

	for idx := int64(0); idx <= last; idx++ {
		start := minTime.Add(time.Duration(idx) * interval)
		b := buckets[idx]
		if b == nil {
			b = &bucket{}
		}
		var avg float64
		if b.packets > 0 {
			avg = float64(b.bytes) / float64(b.packets)
		}
		point := func(series string, value float64) model.TimeSeriesPoint {
			return model.TimeSeriesPoint{
				Timestamp:   start,
				SeriesID:    series,
				Value:       value,
				PacketCount: b.packets,
				AverageSize: avg,
			}
		}
		ts.Throughput = append(ts.Throughput, point(model.SeriesThroughput, float64(b.bytes)/1024/seconds))
		ts.PacketRate = append(ts.PacketRate, point(model.SeriesPacketRate, float64(b.packets)/seconds))
		ts.AnomalyRate = append(ts.AnomalyRate, point(model.SeriesAnomalyRate, float64(b.anomalies)/seconds))
	}
	return ts
}

// MaxInWindow approximates the largest number of packets inside any window
// of the given width between start and end, using 50%-overlapping windows
// built from half-window buckets. When the range is no wider than the
// window, the full count is returned.
func MaxInWindow(packets []model.PacketRecord, window time.Duration, start, end time.Time) int {
	if window <= 0 || end.Before(start) {
		return 0
	}

	if end.Sub(start) <= window {
		count := 0
		for i := range packets {
			if inRange(packets[i].Timestamp, start, end) {
				count++
			}
		}
		return count
	}

	half := window / 2
	if half <= 0 {
		half = window
	}
	n := int64(end.Sub(start)/half) + 1

	if n <= maxDenseWindowBucket {
		counts := make([]int, n)
		for i := range packets {
			ts := packets[i].Timestamp
			if inRange(ts, start, end) {
				counts[int64(ts.Sub(start)/half)]++
			}
		}
		return maxAdjacentPair(func(i int64) int { return counts[i] }, n)
	}

	sparse := make(map[int64]int)
	for i := range packets {
		ts := packets[i].Timestamp
		if inRange(ts, start, end) {
			sparse[int64(ts.Sub(start)/half)]++
		}
	}
	best := 0
	for idx, c := range sparse {
		if sum := c + sparse[idx+1]; sum > best {
			best = sum
		}
	}
	return best
}

func maxAdjacentPair(count func(int64) int, n int64) int {
	if n == 1 {
		return count(0)
	}
	best := 0
	for i := int64(0); i+1 < n; i++ {
		if sum := count(i) + count(i+1); sum > best {
			best = sum
		}
	}
	return best
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
