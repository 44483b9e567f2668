// Package archive exports audit trail rows to Parquet files for cold
// storage and offline analysis.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/audit"
)

// Record is the Parquet row shape for one audit event. Timestamps are
// flattened to Unix milliseconds.
type Record struct {
	ID          int64  `parquet:"id" json:"id"`
	ActorID     int64  `parquet:"actor_id" json:"actor_id"`
	SessionID   string `parquet:"session_id" json:"session_id"`
	Action      string `parquet:"action" json:"action"`
	TimestampMS int64  `parquet:"timestamp_ms" json:"timestamp_ms"`
	SourceAddr  string `parquet:"source_addr" json:"source_addr"`
	Detail      string `parquet:"detail" json:"detail"`
}

// Source lists audit rows for archival.
type Source interface {
	ListAuditEventsSince(ctx context.Context, since time.Time, limit int) ([]audit.Event, error)
}

// Config controls one archive run.
type Config struct {
	Since     time.Time
	BatchSize int
	OutputDir string
}

// Result summarizes one archive run.
type Result struct {
	Path         string
	RowsArchived int
	Duration     time.Duration
}

// Archiver streams audit rows into a Parquet file.
type Archiver struct {
	source Source
	logger *zap.Logger
}

// NewArchiver creates an archiver over the given source.
func NewArchiver(source Source, logger *zap.Logger) *Archiver {
	return &Archiver{source: source, logger: logger}
}

// Run exports all audit rows after cfg.Since into a timestamped Parquet
// file under cfg.OutputDir. The export is read-only with respect to the
// database; rows are never deleted here.
func (a *Archiver) Run(ctx context.Context, cfg Config) (*Result, error) {
	start := time.Now()

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := fmt.Sprintf("%s/audit_%s.parquet", cfg.OutputDir, start.UTC().Format("20060102T150405Z"))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)
	defer writer.Close()

	a.logger.Info("Starting audit archive",
		zap.Time("since", cfg.Since),
		zap.String("output", path),
	)

	total := 0
	cursor := cfg.Since
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		events, err := a.source.ListAuditEventsSince(ctx, cursor, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for i := range events {
			record := toRecord(&events[i])
			if err := writer.Write(&record); err != nil {
				return nil, fmt.Errorf("failed to write archive row: %w", err)
			}
		}

		total += len(events)
		cursor = events[len(events)-1].Timestamp
		if len(events) < cfg.BatchSize {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	result := &Result{
		Path:         path,
		RowsArchived: total,
		Duration:     time.Since(start),
	}

	a.logger.Info("Audit archive completed",
		zap.Int("rows", result.RowsArchived),
		zap.Duration("duration", result.Duration),
		zap.String("output", result.Path),
	)

	return result, nil
}

// ReadArchive loads all rows from an archive file, mostly for
// verification after a run.
func ReadArchive(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var records []Record
	for {
		var record Record
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive row: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}

func toRecord(event *audit.Event) Record {
	return Record{
		ID:          event.ID,
		ActorID:     event.ActorID,
		SessionID:   event.SessionID,
		Action:      string(event.Action),
		TimestampMS: event.Timestamp.UnixMilli(),
		SourceAddr:  event.SourceAddress,
		Detail:      event.Detail,
	}
}
