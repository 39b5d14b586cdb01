package model

import "time"

// Series identifiers.
const (
	SeriesThroughput  = "throughput"
	SeriesPacketRate  = "packet_rate"
	SeriesAnomalyRate = "anomaly_rate"
)

// TimeSeriesPoint is one bucket of a named series. Timestamp is the bucket
// start.
type TimeSeriesPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	SeriesID    string    `json:"series_id"`
	Value       float64   `json:"value"`
	PacketCount int64     `json:"packet_count"`
	AverageSize float64   `json:"average_size"`
}

// TimeSeries is the set of named series produced for one packet collection.
// All three slices share the same bucket timestamps.
type TimeSeries struct {
	Interval    time.Duration     `json:"interval"`
	Throughput  []TimeSeriesPoint `json:"throughput"`
	PacketRate  []TimeSeriesPoint `json:"packet_rate"`
	AnomalyRate []TimeSeriesPoint `json:"anomaly_rate"`
}

// Empty reports whether no buckets were produced.
func (ts *TimeSeries) Empty() bool {
	return len(ts.Throughput) == 0
}
