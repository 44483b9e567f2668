// Package vault orchestrates the anonymization pipeline and the gated,
// audited reversal of it.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/covertlabs/pii-vault/internal/anonymizer"
	"github.com/covertlabs/pii-vault/internal/audit"
	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/crypto"
	"github.com/covertlabs/pii-vault/internal/pii"
	"github.com/covertlabs/pii-vault/internal/ratelimit"
	"github.com/covertlabs/pii-vault/internal/search"
	"github.com/covertlabs/pii-vault/internal/store"
)

// Service wires detection, anonymization, encryption, persistence, the
// decrypt gate, and the audit trail. Shared services are constructed once
// at process start; a fresh Anonymizer is allocated per document.
type Service struct {
	detector   *pii.Detector
	recognizer pii.Recognizer
	crypto     *crypto.Service
	store      Store
	recorder   *audit.Recorder
	limiter    ratelimit.Limiter
	gateCfg    config.DecryptGateConfig
	anonCfg    config.AnonymizerConfig
	events     EventPublisher
	logger     *zap.Logger
}

// New creates the vault service.
func New(
	detector *pii.Detector,
	recognizer pii.Recognizer,
	cryptoSvc *crypto.Service,
	st Store,
	recorder *audit.Recorder,
	limiter ratelimit.Limiter,
	gateCfg config.DecryptGateConfig,
	anonCfg config.AnonymizerConfig,
	events EventPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		detector:   detector,
		recognizer: recognizer,
		crypto:     cryptoSvc,
		store:      st,
		recorder:   recorder,
		limiter:    limiter,
		gateCfg:    gateCfg,
		anonCfg:    anonCfg,
		events:     events,
		logger:     logger,
	}
}

// ProcessDocument runs the full anonymization pipeline over text and
// persists the session atomically with its mapping rows.
func (s *Service) ProcessDocument(ctx context.Context, actorID int64, filename, text string) (*ProcessResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Reason: "no text content found in document"}
	}

	patternEntities := s.detector.Detect(text)

	modelSpans, err := s.recognizer.Recognize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("entity recognition failed: %w", err)
	}

	entities := pii.Merge(patternEntities, pii.FromModelSpans(modelSpans))
	stats := pii.Statistics(entities)

	anon := anonymizer.NewWithOptions(anonymizer.Options{
		NumberInReadingOrder: s.anonCfg.NumberInReadingOrder,
	})
	anonymizedText, mapping, err := anon.Anonymize(text, entities)
	if err != nil {
		return nil, fmt.Errorf("anonymization failed: %w", err)
	}

	encryptedText, err := s.crypto.EncryptText(text)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	encryptedMapping, err := s.crypto.EncryptJSON(mapping)
	if err != nil {
		return nil, fmt.Errorf("mapping encryption failed: %w", err)
	}

	now := time.Now().UTC()
	session := &store.Session{
		ID:               uuid.NewString(),
		ActorID:          actorID,
		OriginalFilename: filename,
		UploadTimestamp:  now,
		EncryptedText:    encryptedText,
		AnonymizedText:   anonymizedText,
		EncryptedMapping: encryptedMapping,
		LastAccessed:     now,
	}

	mappingRows, err := s.buildMappingRows(session.ID, mapping, entities)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateSession(ctx, session, mappingRows); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{
		"filename":     filename,
		"entity_count": stats.TotalEntities,
	})
	s.recorder.Record(ctx, audit.Event{
		ActorID:   actorID,
		SessionID: session.ID,
		Action:    audit.ActionUpload,
		Detail:    string(detail),
	})

	if s.events != nil {
		s.events.PublishDetection(session.ID, stats)
	}

	s.logger.Info("Document processed",
		zap.String("session_id", session.ID),
		zap.Int64("actor_id", actorID),
		zap.Int("entities", stats.TotalEntities),
		zap.Int("unique_values", stats.UniqueValues))

	return &ProcessResult{
		SessionID:      session.ID,
		AnonymizedText: anonymizedText,
		Mappings:       anonymizer.MappingList(mapping),
		Stats:          stats,
		UploadedAt:     now,
	}, nil
}

// buildMappingRows encrypts each literal value individually and carries
// over the entity's confidence and detection method.
func (s *Service) buildMappingRows(sessionID string, mapping map[string]string, entities []pii.Entity) ([]store.PIIMappingRecord, error) {
	byValue := make(map[string]pii.Entity, len(entities))
	for _, e := range entities {
		if _, ok := byValue[e.Text]; !ok {
			byValue[e.Text] = e
		}
	}

	rows := make([]store.PIIMappingRecord, 0, len(mapping))
	for value, placeholder := range mapping {
		encrypted, err := s.crypto.EncryptText(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt mapping value: %w", err)
		}

		confidence := 0.9
		method := "combined"
		if e, ok := byValue[value]; ok {
			confidence = e.Confidence
			method = string(e.Method)
		}

		rows = append(rows, store.PIIMappingRecord{
			SessionID:         sessionID,
			EncryptedOriginal: encrypted,
			Placeholder:       placeholder,
			PIIType:           anonymizer.TypeFromPlaceholder(placeholder),
			ConfidenceScore:   confidence,
			DetectionMethod:   method,
		})
	}

	return rows, nil
}

// Decrypt runs the gated reversal: rate check first, password check
// second, decryption last. An allowed attempt consumes a rate slot whether
// or not the password turns out to be correct.
func (s *Service) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	key := ratelimit.Key(req.ActorID, req.SessionID)

	allowed, err := s.limiter.Allow(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		// Rejected before the attempt existed: no audit row.
		if s.events != nil {
			s.events.PublishDecryptAttempt(req.SessionID, false, false)
		}
		return nil, ErrRateLimited
	}

	session, err := s.store.GetSession(ctx, req.ActorID, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	actor, err := s.store.GetActor(ctx, req.ActorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(req.Password)) != nil {
		s.recorder.Record(ctx, audit.Event{
			ActorID:       req.ActorID,
			SessionID:     req.SessionID,
			Action:        audit.ActionDecryptFailed,
			SourceAddress: req.SourceAddr,
			Detail:        `{"reason":"invalid password"}`,
		})
		if s.events != nil {
			s.events.PublishDecryptAttempt(req.SessionID, true, false)
		}
		return nil, ErrAuthentication
	}

	plaintext, err := s.crypto.DecryptText(session.EncryptedText)
	if err != nil {
		// Stored ciphertext failed authentication: a server-side fault,
		// not a user input error.
		s.recorder.Record(ctx, audit.Event{
			ActorID:       req.ActorID,
			SessionID:     req.SessionID,
			Action:        audit.ActionDecryptError,
			SourceAddress: req.SourceAddr,
			Detail:        `{"reason":"stored ciphertext failed authentication"}`,
		})
		if s.events != nil {
			s.events.PublishDecryptAttempt(req.SessionID, true, false)
		}
		return nil, fmt.Errorf("stored document could not be decrypted: %w", err)
	}

	if err := s.store.TouchLastAccessed(ctx, req.SessionID); err != nil {
		s.logger.Warn("Failed to refresh session access time",
			zap.String("session_id", req.SessionID), zap.Error(err))
	}

	s.recorder.Record(ctx, audit.Event{
		ActorID:       req.ActorID,
		SessionID:     req.SessionID,
		Action:        audit.ActionDecryptSuccess,
		SourceAddress: req.SourceAddr,
		Detail:        `{"reason":"original document decrypted"}`,
	})
	if s.events != nil {
		s.events.PublishDecryptAttempt(req.SessionID, true, true)
	}

	return &DecryptResult{
		SessionID:    req.SessionID,
		OriginalText: plaintext,
		DecryptedAt:  time.Now().UTC(),
		Message:      "Document successfully decrypted",
	}, nil
}

// Deanonymize rebuilds the original text from the stored anonymized text
// and the encrypted mapping, without touching the encrypted original.
// Used to verify mapping integrity.
func (s *Service) Deanonymize(ctx context.Context, actorID int64, sessionID string) (string, error) {
	session, err := s.store.GetSession(ctx, actorID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	var mapping map[string]string
	if err := s.crypto.DecryptJSON(session.EncryptedMapping, &mapping); err != nil {
		return "", fmt.Errorf("stored mapping could not be decrypted: %w", err)
	}

	return anonymizer.Deanonymize(session.AnonymizedText, mapping), nil
}

// Mappings returns the persisted placeholder assignments for a session the
// actor owns. Original values stay encrypted; callers see placeholder,
// type, confidence, and detection method only.
func (s *Service) Mappings(ctx context.Context, actorID int64, sessionID string) ([]MappingInfo, error) {
	if _, err := s.store.GetSession(ctx, actorID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.store.GetMappings(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}

	infos := make([]MappingInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, MappingInfo{
			Placeholder:     r.Placeholder,
			Type:            r.PIIType,
			Confidence:      r.ConfidenceScore,
			DetectionMethod: r.DetectionMethod,
		})
	}
	return infos, nil
}

// Sessions lists an actor's sessions, newest first.
func (s *Service) Sessions(ctx context.Context, actorID int64) ([]store.Session, error) {
	return s.store.ListSessions(ctx, actorID)
}

// Search runs a keyword search over the anonymized text of a session the
// actor owns. Only anonymized content is ever searched.
func (s *Service) Search(ctx context.Context, actorID int64, sessionID, query string) ([]search.Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Reason: "query must not be empty"}
	}

	session, err := s.store.GetSession(ctx, actorID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return search.FindContext(session.AnonymizedText, query, search.DefaultContextWindow), nil
}

// CanDecrypt peeks at the rate limiter without consuming an attempt.
func (s *Service) CanDecrypt(ctx context.Context, actorID int64, sessionID string) (*DecryptStatus, error) {
	if _, err := s.store.GetSession(ctx, actorID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	remaining, err := s.limiter.Remaining(ctx, ratelimit.Key(actorID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	lastDecrypt, err := s.store.LastDecryptSuccess(ctx, actorID, sessionID)
	if err != nil {
		return nil, err
	}

	status := &DecryptStatus{
		SessionID:         sessionID,
		CanDecrypt:        remaining > 0,
		RemainingAttempts: remaining,
		MaxAttempts:       s.gateCfg.MaxAttempts,
		Window:            s.gateCfg.Window.String(),
		LastDecryptAt:     lastDecrypt,
	}
	if status.CanDecrypt {
		status.Message = "Ready to decrypt"
	} else {
		status.Message = "Rate limit exceeded. Try again later."
	}

	return status, nil
}

// AuditLog returns the decrypt-related audit entries for a session the
// actor owns.
func (s *Service) AuditLog(ctx context.Context, actorID int64, sessionID string, limit int) ([]audit.Event, error) {
	if _, err := s.store.GetSession(ctx, actorID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s.store.ListAuditEvents(ctx, sessionID, limit)
}

// Export marks one export of the anonymized document and returns the
// session for rendering. The render itself happens at the boundary.
func (s *Service) Export(ctx context.Context, actorID int64, sessionID, format, sourceAddr string) (*store.Session, error) {
	session, err := s.store.GetSession(ctx, actorID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	count, err := s.store.IncrementExportCount(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to record export: %w", err)
	}
	session.ExportCount = count

	detail, _ := json.Marshal(map[string]any{"format": format, "export_count": count})
	s.recorder.Record(ctx, audit.Event{
		ActorID:       actorID,
		SessionID:     sessionID,
		Action:        audit.ActionExport,
		SourceAddress: sourceAddr,
		Detail:        string(detail),
	})

	return session, nil
}

// Delete destroys a session; mapping and session-scoped audit rows
// cascade. The deletion itself is audited without a session reference,
// since the row no longer exists.
func (s *Service) Delete(ctx context.Context, actorID int64, sessionID, sourceAddr string) error {
	if err := s.store.DeleteSession(ctx, actorID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{"deleted_session": sessionID})
	s.recorder.Record(ctx, audit.Event{
		ActorID:       actorID,
		Action:        audit.ActionDelete,
		SourceAddress: sourceAddr,
		Detail:        string(detail),
	})

	return nil
}
