// Package store is the relational persistence layer for sessions, mapping
// rows, actors, and the audit trail, backed by PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/audit"
)

// ErrNotFound is returned when a requested row does not exist or is owned
// by a different actor.
var ErrNotFound = errors.New("not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS actors (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) UNIQUE NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(36) PRIMARY KEY,
		actor_id BIGINT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		original_filename VARCHAR(255),
		upload_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		document_text_encrypted TEXT NOT NULL,
		anonymized_text TEXT NOT NULL,
		pii_mapping_encrypted TEXT NOT NULL,
		export_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pii_mappings (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(36) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		original_value_encrypted TEXT NOT NULL,
		placeholder VARCHAR(50) NOT NULL,
		pii_type VARCHAR(50),
		confidence_score DOUBLE PRECISION,
		detection_method VARCHAR(50)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		actor_id BIGINT NOT NULL,
		session_id VARCHAR(36) REFERENCES sessions(id) ON DELETE CASCADE,
		action VARCHAR(50) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		ip_address VARCHAR(45),
		details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_actor ON sessions(actor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mappings_session ON pii_mappings(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id, action)`,
}

// Store wraps the PostgreSQL connection pool. It is safe for concurrent
// use.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database, configures the pool, and ensures the
// schema exists.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db, logger: logger}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Session store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return s, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}

	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetActor fetches an actor by id.
func (s *Store) GetActor(ctx context.Context, actorID int64) (*Actor, error) {
	var actor Actor
	err := s.db.GetContext(ctx, &actor,
		`SELECT id, username, email, password_hash, created_at FROM actors WHERE id = $1`, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch actor: %w", err)
	}
	return &actor, nil
}

// CreateActor inserts a new actor and returns its id.
func (s *Store) CreateActor(ctx context.Context, username, email, passwordHash string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO actors (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		username, email, passwordHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create actor: %w", err)
	}
	return id, nil
}

// CreateSession persists a session together with its mapping rows in one
// transaction, so a session never exists without its PII mappings.
func (s *Store) CreateSession(ctx context.Context, session *Session, mappings []PIIMappingRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, actor_id, original_filename, upload_timestamp,
			document_text_encrypted, anonymized_text, pii_mapping_encrypted,
			export_count, last_accessed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $4)`,
		session.ID, session.ActorID, session.OriginalFilename, session.UploadTimestamp,
		session.EncryptedText, session.AnonymizedText, session.EncryptedMapping)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i := range mappings {
		m := &mappings[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pii_mappings (
				session_id, original_value_encrypted, placeholder,
				pii_type, confidence_score, detection_method
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			session.ID, m.EncryptedOriginal, m.Placeholder,
			m.PIIType, m.ConfidenceScore, m.DetectionMethod)
		if err != nil {
			return fmt.Errorf("failed to insert mapping row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	s.logger.Debug("Session created",
		zap.String("session_id", session.ID),
		zap.Int64("actor_id", session.ActorID),
		zap.Int("mapping_rows", len(mappings)))

	return nil
}

// GetSession fetches a session owned by actorID. A session belonging to a
// different actor is reported as not found rather than forbidden.
func (s *Store) GetSession(ctx context.Context, actorID int64, sessionID string) (*Session, error) {
	var session Session
	err := s.db.GetContext(ctx, &session, `
		SELECT id, actor_id, original_filename, upload_timestamp,
		       document_text_encrypted, anonymized_text, pii_mapping_encrypted,
		       export_count, last_accessed
		FROM sessions WHERE id = $1 AND actor_id = $2`,
		sessionID, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions for an actor, newest first.
func (s *Store) ListSessions(ctx context.Context, actorID int64) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT id, actor_id, original_filename, upload_timestamp,
		       document_text_encrypted, anonymized_text, pii_mapping_encrypted,
		       export_count, last_accessed
		FROM sessions WHERE actor_id = $1 ORDER BY upload_timestamp DESC`,
		actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetMappings returns the persisted placeholder assignments for a session.
func (s *Store) GetMappings(ctx context.Context, sessionID string) ([]PIIMappingRecord, error) {
	var rows []PIIMappingRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, original_value_encrypted, placeholder,
		       pii_type, confidence_score, detection_method
		FROM pii_mappings WHERE session_id = $1 ORDER BY placeholder`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mappings: %w", err)
	}
	return rows, nil
}

// TouchLastAccessed refreshes a session's last_accessed timestamp.
func (s *Store) TouchLastAccessed(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// IncrementExportCount bumps export_count and returns the new value.
func (s *Store) IncrementExportCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sessions SET export_count = export_count + 1 WHERE id = $1 RETURNING export_count`,
		sessionID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment export count: %w", err)
	}
	return count, nil
}

// DeleteSession removes a session owned by actorID; mapping rows and
// session-scoped audit rows cascade.
func (s *Store) DeleteSession(ctx context.Context, actorID int64, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND actor_id = $2`, sessionID, actorID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Session deleted",
		zap.String("session_id", sessionID),
		zap.Int64("actor_id", actorID))

	return nil
}

// InsertAuditEvent appends an audit row. Implements audit.Sink.
func (s *Store) InsertAuditEvent(ctx context.Context, event *audit.Event) error {
	sessionID := sql.NullString{String: event.SessionID, Valid: event.SessionID != ""}
	ipAddress := sql.NullString{String: event.SourceAddress, Valid: event.SourceAddress != ""}
	details := sql.NullString{String: event.Detail, Valid: event.Detail != ""}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (actor_id, session_id, action, timestamp, ip_address, details)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		event.ActorID, sessionID, event.Action, event.Timestamp, ipAddress, details).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the decrypt-related audit entries for a session,
// newest first.
func (s *Store) ListAuditEvents(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_id, session_id, action, timestamp, ip_address, details
		FROM audit_log
		WHERE session_id = $1
		  AND action IN ('DECRYPT_SUCCESS', 'DECRYPT_FAILED', 'DECRYPT_ERROR')
		ORDER BY timestamp DESC
		LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// ListAuditEventsSince returns all audit rows after a point in time,
// oldest first; used by the archive exporter.
func (s *Store) ListAuditEventsSince(ctx context.Context, since time.Time, limit int) ([]audit.Event, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_id, session_id, action, timestamp, ip_address, details
		FROM audit_log
		WHERE timestamp > $1
		ORDER BY timestamp ASC
		LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// LastDecryptSuccess returns the timestamp of the most recent successful
// decrypt for the actor/session pair, or nil when there is none.
func (s *Store) LastDecryptSuccess(ctx context.Context, actorID int64, sessionID string) (*time.Time, error) {
	var ts time.Time
	err := s.db.GetContext(ctx, &ts, `
		SELECT timestamp FROM audit_log
		WHERE actor_id = $1 AND session_id = $2 AND action = 'DECRYPT_SUCCESS'
		ORDER BY timestamp DESC LIMIT 1`,
		actorID, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last decrypt: %w", err)
	}
	return &ts, nil
}

func (r auditRow) toEvent() audit.Event {
	return audit.Event{
		ID:            r.ID,
		ActorID:       r.ActorID,
		SessionID:     r.SessionID.String,
		Action:        audit.Action(r.Action),
		Timestamp:     r.Timestamp,
		SourceAddress: r.IPAddress.String,
		Detail:        r.Details.String,
	}
}

// maskDatabaseURL hides credentials in log output.
func maskDatabaseURL(url string) string {
	if at := strings.Index(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***:***" + url[at:]
		}
	}
	return url
}
