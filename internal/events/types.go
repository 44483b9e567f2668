package events

import (
	"time"

	"github.com/covertlabs/pii-vault/internal/pii"
)

// EventType represents the type of feed event
type EventType string

const (
	// EventTypeDetection is emitted after a document is anonymized.
	EventTypeDetection EventType = "detection"
	// EventTypeDecryptAttempt is emitted for every decrypt attempt.
	EventTypeDecryptAttempt EventType = "decrypt_attempt"
	// EventTypeConnection represents feed connection events
	EventTypeConnection EventType = "connection"
)

// Event is one message pushed to feed clients. Events carry counts and
// identifiers only, never document text or literal PII values.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DetectionEvent summarizes one anonymization run.
type DetectionEvent struct {
	SessionID     string    `json:"session_id"`
	TotalEntities int       `json:"total_entities"`
	UniqueValues  int       `json:"unique_values"`
	Stats         pii.Stats `json:"stats"`
}

// DecryptAttemptEvent reports a decrypt attempt outcome.
type DecryptAttemptEvent struct {
	SessionID string `json:"session_id"`
	Allowed   bool   `json:"allowed"`
	Succeeded bool   `json:"succeeded"`
}

// ConnectionEvent reports feed client churn.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
}
