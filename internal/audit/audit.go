// Package audit defines the append-only trail of security-relevant
// actions.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Action identifies a security-relevant event kind.
type Action string

const (
	ActionUpload         Action = "UPLOAD"
	ActionExport         Action = "EXPORT"
	ActionDelete         Action = "DELETE"
	ActionDecryptSuccess Action = "DECRYPT_SUCCESS"
	ActionDecryptFailed  Action = "DECRYPT_FAILED"
	ActionDecryptError   Action = "DECRYPT_ERROR"
	ActionLogin          Action = "LOGIN"
)

// Event is one audit trail entry. Events are append-only and never
// mutated; they are removed only when their session is deleted. Events
// with an empty SessionID (e.g. logins) survive session deletion.
type Event struct {
	ID            int64     `json:"id" db:"id"`
	ActorID       int64     `json:"actor_id" db:"actor_id"`
	SessionID     string    `json:"session_id,omitempty" db:"session_id"`
	Action        Action    `json:"action" db:"action"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	SourceAddress string    `json:"ip_address,omitempty" db:"ip_address"`
	// Detail is caller-opaque, commonly a short JSON blob.
	Detail string `json:"details,omitempty" db:"details"`
}

// Sink persists audit events.
type Sink interface {
	InsertAuditEvent(ctx context.Context, event *Event) error
}

// Recorder writes events to a sink on a best-effort basis: a failed write
// is surfaced to operators through the log but never blocks the primary
// result.
type Recorder struct {
	sink   Sink
	logger *zap.Logger
}

// NewRecorder creates a recorder over the given sink.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Record appends an event, stamping the time when unset.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := r.sink.InsertAuditEvent(ctx, &event); err != nil {
		r.logger.Error("Failed to write audit event",
			zap.String("action", string(event.Action)),
			zap.Int64("actor_id", event.ActorID),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return
	}

	r.logger.Debug("Audit event recorded",
		zap.String("action", string(event.Action)),
		zap.Int64("actor_id", event.ActorID),
		zap.String("session_id", event.SessionID),
	)
}
