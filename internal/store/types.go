package store

import (
	"database/sql"
	"time"
)

// Actor is a service user able to upload and decrypt documents.
// Authentication and token issuance live outside this core; the store only
// holds the password hash the decrypt gate re-verifies against.
type Actor struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Session is one anonymization run over one document. The anonymized text
// is safe to store in the clear; the original text and the placeholder
// mapping are stored only encrypted.
type Session struct {
	ID                string    `db:"id"`
	ActorID           int64     `db:"actor_id"`
	OriginalFilename  string    `db:"original_filename"`
	UploadTimestamp   time.Time `db:"upload_timestamp"`
	EncryptedText     string    `db:"document_text_encrypted"`
	AnonymizedText    string    `db:"anonymized_text"`
	EncryptedMapping  string    `db:"pii_mapping_encrypted"`
	ExportCount       int       `db:"export_count"`
	LastAccessed      time.Time `db:"last_accessed"`
}

// PIIMappingRecord is one persisted placeholder assignment, one row per
// detected literal value per session. Rows share their session's
// lifecycle.
type PIIMappingRecord struct {
	ID                 int64           `db:"id"`
	SessionID          string          `db:"session_id"`
	EncryptedOriginal  string          `db:"original_value_encrypted"`
	Placeholder        string          `db:"placeholder"`
	PIIType            string          `db:"pii_type"`
	ConfidenceScore    float64         `db:"confidence_score"`
	DetectionMethod    string          `db:"detection_method"`
}

// auditRow is the database shape of an audit event; session_id and
// ip_address are nullable.
type auditRow struct {
	ID        int64          `db:"id"`
	ActorID   int64          `db:"actor_id"`
	SessionID sql.NullString `db:"session_id"`
	Action    string         `db:"action"`
	Timestamp time.Time      `db:"timestamp"`
	IPAddress sql.NullString `db:"ip_address"`
	Details   sql.NullString `db:"details"`
}

// Config contains database configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}
