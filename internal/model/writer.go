package model

import "context"

// Writer defines a generic interface for persisting analysis reports.
type Writer interface {
	// Write persists the report. timestamp names the snapshot, formatted as
	// 2006-01-02_15-04-05.
	Write(ctx context.Context, report *Report, timestamp string) error

	// Name identifies the writer in logs.
	Name() string
}
