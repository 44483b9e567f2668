package archive

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/audit"
)

// sliceSource serves audit events from memory.
type sliceSource struct {
	events []audit.Event
}

func (s *sliceSource) ListAuditEventsSince(ctx context.Context, since time.Time, limit int) ([]audit.Event, error) {
	var out []audit.Event
	for _, e := range s.events {
		if e.Timestamp.After(since) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// TestArchiver tests writing and reading back a Parquet archive
func TestArchiver(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &sliceSource{}
	for i := 0; i < 25; i++ {
		source.events = append(source.events, audit.Event{
			ID:            int64(i + 1),
			ActorID:       1,
			SessionID:     "session-a",
			Action:        audit.ActionDecryptSuccess,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			SourceAddress: "10.0.0.1",
		})
	}

	archiver := NewArchiver(source, zap.NewNop())

	t.Run("RoundTrip", func(t *testing.T) {
		result, err := archiver.Run(context.Background(), Config{
			Since:     base.Add(-time.Minute),
			BatchSize: 10,
			OutputDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("Archive run failed: %v", err)
		}
		if result.RowsArchived != 25 {
			t.Errorf("Expected 25 rows archived, got %d", result.RowsArchived)
		}

		records, err := ReadArchive(result.Path)
		if err != nil {
			t.Fatalf("Failed to read archive back: %v", err)
		}
		if len(records) != 25 {
			t.Fatalf("Expected 25 rows read back, got %d", len(records))
		}
		if records[0].Action != string(audit.ActionDecryptSuccess) {
			t.Errorf("Unexpected action: %s", records[0].Action)
		}
		if records[0].TimestampMS != base.UnixMilli() {
			t.Errorf("Timestamp mismatch: %d", records[0].TimestampMS)
		}
	})

	t.Run("SinceFiltersRows", func(t *testing.T) {
		result, err := archiver.Run(context.Background(), Config{
			Since:     base.Add(20 * time.Minute),
			BatchSize: 10,
			OutputDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("Archive run failed: %v", err)
		}
		// Events at minutes 21..24 remain.
		if result.RowsArchived != 4 {
			t.Errorf("Expected 4 rows, got %d", result.RowsArchived)
		}
	})

	t.Run("EmptyRangeProducesEmptyArchive", func(t *testing.T) {
		result, err := archiver.Run(context.Background(), Config{
			Since:     base.Add(24 * time.Hour),
			OutputDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("Archive run failed: %v", err)
		}
		if result.RowsArchived != 0 {
			t.Errorf("Expected empty archive, got %d rows", result.RowsArchived)
		}
	})
}
