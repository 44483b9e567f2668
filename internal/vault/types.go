package vault

import (
	"context"
	"time"

	"github.com/covertlabs/pii-vault/internal/anonymizer"
	"github.com/covertlabs/pii-vault/internal/audit"
	"github.com/covertlabs/pii-vault/internal/pii"
	"github.com/covertlabs/pii-vault/internal/store"
)

// Store is the persistence surface the vault consumes. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	GetActor(ctx context.Context, actorID int64) (*store.Actor, error)
	CreateSession(ctx context.Context, session *store.Session, mappings []store.PIIMappingRecord) error
	GetSession(ctx context.Context, actorID int64, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context, actorID int64) ([]store.Session, error)
	GetMappings(ctx context.Context, sessionID string) ([]store.PIIMappingRecord, error)
	TouchLastAccessed(ctx context.Context, sessionID string) error
	IncrementExportCount(ctx context.Context, sessionID string) (int, error)
	DeleteSession(ctx context.Context, actorID int64, sessionID string) error
	ListAuditEvents(ctx context.Context, sessionID string, limit int) ([]audit.Event, error)
	LastDecryptSuccess(ctx context.Context, actorID int64, sessionID string) (*time.Time, error)
}

// EventPublisher receives live notifications about security-relevant
// activity. Implementations must not block.
type EventPublisher interface {
	PublishDetection(sessionID string, stats pii.Stats)
	PublishDecryptAttempt(sessionID string, allowed, succeeded bool)
}

// ProcessResult summarizes one anonymization run.
type ProcessResult struct {
	SessionID      string                    `json:"session_id"`
	AnonymizedText string                    `json:"anonymized_text"`
	Mappings       []anonymizer.MappingEntry `json:"mappings"`
	Stats          pii.Stats                 `json:"stats"`
	UploadedAt     time.Time                 `json:"uploaded_at"`
}

// MappingInfo is the safe view of one persisted placeholder assignment.
// The original literal value is never included.
type MappingInfo struct {
	Placeholder     string  `json:"placeholder"`
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

// DecryptRequest carries one decrypt attempt.
type DecryptRequest struct {
	ActorID    int64
	SessionID  string
	Password   string
	SourceAddr string
}

// DecryptResult is the successful decrypt response shape.
type DecryptResult struct {
	SessionID    string    `json:"session_id"`
	OriginalText string    `json:"original_text"`
	DecryptedAt  time.Time `json:"decrypted_at"`
	Message      string    `json:"message"`
}

// DecryptStatus reports whether an actor may currently attempt a decrypt.
type DecryptStatus struct {
	SessionID         string     `json:"session_id"`
	CanDecrypt        bool       `json:"can_decrypt"`
	RemainingAttempts int        `json:"remaining_attempts"`
	MaxAttempts       int        `json:"max_attempts"`
	Window            string     `json:"window"`
	LastDecryptAt     *time.Time `json:"last_decrypt_at,omitempty"`
	Message           string     `json:"message"`
}
