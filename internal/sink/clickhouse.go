package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createFindingsTable = `
CREATE TABLE IF NOT EXISTS sentinel_findings (
    Timestamp      DateTime,
    ID             String,
    Kind           LowCardinality(String),
    Detector       LowCardinality(String),
    Type           String,
    Category       String,
    Severity       UInt8,
    DetectedAt     DateTime64(3),
    SourceIP       String,
    DestinationIP  String,
    Description    String,
    Recommendation String,
    Evidence       String,
    AffectedFrames Array(Int64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Detector, Timestamp);
`

const createSeriesTable = `
CREATE TABLE IF NOT EXISTS sentinel_series (
    Timestamp   DateTime,
    SeriesID    LowCardinality(String),
    BucketTime  DateTime64(3),
    Value       Float64,
    PacketCount UInt64,
    AverageSize Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (SeriesID, BucketTime);
`

// ClickHouseWriter inserts findings and series points into ClickHouse.
type ClickHouseWriter struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseWriter connects and ensures both tables exist.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	for _, stmt := range []string{createFindingsTable, createSeriesTable} {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	logger.Info("connected to ClickHouse", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &ClickHouseWriter{conn: conn, logger: logger.Named("clickhouse-writer")}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write inserts the report's findings and every series point.
func (w *ClickHouseWriter) Write(ctx context.Context, report *model.Report, timestamp string) error {
	snapshotTime, err := time.Parse(TimestampLayout, timestamp)
	if err != nil {
		snapshotTime = report.GeneratedAt
	}

	if len(report.Findings) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO sentinel_findings")
		if err != nil {
			return fmt.Errorf("failed to prepare findings batch: %w", err)
		}
		for _, f := range report.Findings {
			row, err := findingRow(snapshotTime, f)
			if err != nil {
				return err
			}
			if err := batch.Append(row...); err != nil {
				return fmt.Errorf("failed to append finding to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send findings batch: %w", err)
		}
	}

	points := seriesRows(snapshotTime, &report.Series)
	if len(points) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO sentinel_series")
		if err != nil {
			return fmt.Errorf("failed to prepare series batch: %w", err)
		}
		for _, row := range points {
			if err := batch.Append(row...); err != nil {
				return fmt.Errorf("failed to append series point to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send series batch: %w", err)
		}
	}

	w.logger.Info("report written",
		zap.Int("findings", len(report.Findings)),
		zap.Int("series_points", len(points)))
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// findingRow flattens a finding in column order of sentinel_findings.
func findingRow(ts time.Time, f model.Finding) ([]any, error) {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence of finding %s: %w", f.ID, err)
	}
	frames := f.AffectedFrames
	if frames == nil {
		frames = []int64{}
	}
	return []any{
		ts,
		f.ID,
		string(f.Kind),
		f.Detector,
		f.Type,
		f.Category,
		uint8(f.Severity),
		f.DetectedAt,
		f.SourceIP,
		f.DestinationIP,
		f.Description,
		f.Recommendation,
		string(evidence),
		frames,
	}, nil
}

func seriesRows(ts time.Time, series *model.TimeSeries) [][]any {
	var rows [][]any
	for _, points := range [][]model.TimeSeriesPoint{series.Throughput, series.PacketRate, series.AnomalyRate} {
		for _, p := range points {
			rows = append(rows, []any{ts, p.SeriesID, p.Timestamp, p.Value, uint64(p.PacketCount), p.AverageSize})
		}
	}
	return rows
}

var _ model.Writer = (*ClickHouseWriter)(nil)
