package vault

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/covertlabs/pii-vault/internal/audit"
	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/crypto"
	"github.com/covertlabs/pii-vault/internal/pii"
	"github.com/covertlabs/pii-vault/internal/ratelimit"
	"github.com/covertlabs/pii-vault/internal/store"
)

// fakeStore is an in-memory Store and audit.Sink for service tests.
type fakeStore struct {
	mu       sync.Mutex
	actors   map[int64]*store.Actor
	sessions map[string]*store.Session
	mappings map[string][]store.PIIMappingRecord
	events   []audit.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:   make(map[int64]*store.Actor),
		sessions: make(map[string]*store.Session),
		mappings: make(map[string][]store.PIIMappingRecord),
	}
}

func (f *fakeStore) GetActor(ctx context.Context, actorID int64) (*store.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	actor, ok := f.actors[actorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return actor, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, session *store.Session, mappings []store.PIIMappingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	f.mappings[session.ID] = mappings
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, actorID int64, sessionID string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.ActorID != actorID {
		return nil, store.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, actorID int64) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Session
	for _, session := range f.sessions {
		if session.ActorID == actorID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMappings(ctx context.Context, sessionID string) ([]store.PIIMappingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mappings[sessionID], nil
}

func (f *fakeStore) TouchLastAccessed(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeStore) IncrementExportCount(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return 0, store.ErrNotFound
	}
	session.ExportCount++
	return session.ExportCount, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, actorID int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.ActorID != actorID {
		return store.ErrNotFound
	}
	delete(f.sessions, sessionID)
	delete(f.mappings, sessionID)
	return nil
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for _, e := range f.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) LastDecryptSuccess(ctx context.Context, actorID int64, sessionID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		e := f.events[i]
		if e.ActorID == actorID && e.SessionID == sessionID && e.Action == audit.ActionDecryptSuccess {
			ts := e.Timestamp
			return &ts, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event *audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) actionsFor(sessionID string) []audit.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	var actions []audit.Action
	for _, e := range f.events {
		if e.SessionID == sessionID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

// fakePublisher records event feed calls.
type fakePublisher struct {
	mu         sync.Mutex
	detections int
	attempts   int
}

func (p *fakePublisher) PublishDetection(sessionID string, stats pii.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detections++
}

func (p *fakePublisher) PublishDecryptAttempt(sessionID string, allowed, succeeded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
}

type testHarness struct {
	svc     *Service
	store   *fakeStore
	limiter *ratelimit.MemoryLimiter
}

func newTestHarness(t *testing.T, maxAttempts int) *testHarness {
	t.Helper()
	log := zap.NewNop()

	detector, err := pii.NewDetector(config.DetectionConfig{}, log)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	cryptoSvc, err := crypto.NewService("test-vault-secret")
	if err != nil {
		t.Fatalf("Failed to create crypto service: %v", err)
	}

	fs := newFakeStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	fs.actors[1] = &store.Actor{ID: 1, Username: "alice", PasswordHash: string(hash)}

	gateCfg := config.DecryptGateConfig{MaxAttempts: maxAttempts, Window: time.Hour}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{
		MaxAttempts: gateCfg.MaxAttempts,
		Window:      gateCfg.Window,
	})

	svc := New(
		detector,
		pii.NoopRecognizer{},
		cryptoSvc,
		fs,
		audit.NewRecorder(fs, log),
		limiter,
		gateCfg,
		config.AnonymizerConfig{},
		&fakePublisher{},
		log,
	)

	return &testHarness{svc: svc, store: fs, limiter: limiter}
}

const sampleDocument = "Alice Smith (alice@example.com, SSN 123-45-6789) logged in from 192.168.1.50"

// TestProcessDocument tests the upload pipeline
func TestProcessDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("AnonymizesAndPersists", func(t *testing.T) {
		h := newTestHarness(t, 5)

		result, err := h.svc.ProcessDocument(ctx, 1, "report.txt", sampleDocument)
		if err != nil {
			t.Fatalf("ProcessDocument failed: %v", err)
		}

		for _, literal := range []string{"alice@example.com", "123-45-6789", "192.168.1.50"} {
			if strings.Contains(result.AnonymizedText, literal) {
				t.Errorf("Literal %q leaked into anonymized text", literal)
			}
		}

		session, err := h.store.GetSession(ctx, 1, result.SessionID)
		if err != nil {
			t.Fatalf("Session was not persisted: %v", err)
		}
		if session.EncryptedText == "" || session.EncryptedText == sampleDocument {
			t.Error("Original text must be stored encrypted")
		}
		if session.AnonymizedText != result.AnonymizedText {
			t.Error("Stored anonymized text differs from the returned one")
		}

		rows, _ := h.store.GetMappings(ctx, result.SessionID)
		if len(rows) != len(result.Mappings) {
			t.Errorf("Expected %d mapping rows, got %d", len(result.Mappings), len(rows))
		}
		for _, row := range rows {
			if strings.Contains(sampleDocument, row.EncryptedOriginal) {
				t.Error("Mapping rows must store encrypted values")
			}
		}

		actions := h.store.actionsFor(result.SessionID)
		if len(actions) != 1 || actions[0] != audit.ActionUpload {
			t.Errorf("Expected one UPLOAD audit event, got %v", actions)
		}
	})

	t.Run("EmptyDocumentRejected", func(t *testing.T) {
		h := newTestHarness(t, 5)

		_, err := h.svc.ProcessDocument(ctx, 1, "empty.txt", "   \n  ")
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
	})

	t.Run("DocumentWithoutPII", func(t *testing.T) {
		h := newTestHarness(t, 5)

		result, err := h.svc.ProcessDocument(ctx, 1, "plain.txt", "nothing sensitive in here")
		if err != nil {
			t.Fatalf("ProcessDocument failed: %v", err)
		}
		if result.AnonymizedText != "nothing sensitive in here" {
			t.Errorf("Text without PII must pass through unchanged, got %q", result.AnonymizedText)
		}
		if result.Stats.TotalEntities != 0 {
			t.Errorf("Expected zero entities, got %d", result.Stats.TotalEntities)
		}
	})
}

// TestDecrypt tests the gated decrypt flow
func TestDecrypt(t *testing.T) {
	ctx := context.Background()

	upload := func(t *testing.T, h *testHarness) string {
		t.Helper()
		result, err := h.svc.ProcessDocument(ctx, 1, "report.txt", sampleDocument)
		if err != nil {
			t.Fatalf("ProcessDocument failed: %v", err)
		}
		return result.SessionID
	}

	t.Run("CorrectPassword", func(t *testing.T) {
		h := newTestHarness(t, 5)
		sessionID := upload(t, h)

		result, err := h.svc.Decrypt(ctx, DecryptRequest{
			ActorID: 1, SessionID: sessionID, Password: "correct-password", SourceAddr: "10.0.0.9",
		})
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if result.OriginalText != sampleDocument {
			t.Errorf("Decrypted text mismatch: %q", result.OriginalText)
		}

		actions := h.store.actionsFor(sessionID)
		if actions[len(actions)-1] != audit.ActionDecryptSuccess {
			t.Errorf("Expected DECRYPT_SUCCESS audit event, got %v", actions)
		}
	})

	t.Run("WrongPasswordAuditedAndCountsAgainstLimit", func(t *testing.T) {
		h := newTestHarness(t, 5)
		sessionID := upload(t, h)

		_, err := h.svc.Decrypt(ctx, DecryptRequest{
			ActorID: 1, SessionID: sessionID, Password: "wrong",
		})
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("Expected ErrAuthentication, got %v", err)
		}

		actions := h.store.actionsFor(sessionID)
		if actions[len(actions)-1] != audit.ActionDecryptFailed {
			t.Errorf("Expected DECRYPT_FAILED audit event, got %v", actions)
		}

		status, err := h.svc.CanDecrypt(ctx, 1, sessionID)
		if err != nil {
			t.Fatalf("CanDecrypt failed: %v", err)
		}
		if status.RemainingAttempts != 4 {
			t.Errorf("Failed attempt must consume a slot, remaining = %d", status.RemainingAttempts)
		}
	})

	t.Run("RateLimitExhaustion", func(t *testing.T) {
		h := newTestHarness(t, 3)
		sessionID := upload(t, h)

		for i := 0; i < 3; i++ {
			_, err := h.svc.Decrypt(ctx, DecryptRequest{ActorID: 1, SessionID: sessionID, Password: "wrong"})
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("Attempt %d: expected ErrAuthentication, got %v", i+1, err)
			}
		}

		auditedBefore := len(h.store.actionsFor(sessionID))

		// Over the limit: even the correct password is rejected, and
		// nothing lands in the audit trail.
		_, err := h.svc.Decrypt(ctx, DecryptRequest{ActorID: 1, SessionID: sessionID, Password: "correct-password"})
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("Expected ErrRateLimited, got %v", err)
		}
		if got := len(h.store.actionsFor(sessionID)); got != auditedBefore {
			t.Errorf("Rate-limited attempts must not be audited: %d -> %d", auditedBefore, got)
		}

		status, _ := h.svc.CanDecrypt(ctx, 1, sessionID)
		if status.CanDecrypt || status.RemainingAttempts != 0 {
			t.Errorf("Expected closed gate, got %+v", status)
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		h := newTestHarness(t, 5)

		_, err := h.svc.Decrypt(ctx, DecryptRequest{ActorID: 1, SessionID: "no-such-session", Password: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("OtherActorsSessionHidden", func(t *testing.T) {
		h := newTestHarness(t, 5)
		sessionID := upload(t, h)

		hash, _ := bcrypt.GenerateFromPassword([]byte("other-password"), bcrypt.MinCost)
		h.store.actors[2] = &store.Actor{ID: 2, Username: "mallory", PasswordHash: string(hash)}

		_, err := h.svc.Decrypt(ctx, DecryptRequest{ActorID: 2, SessionID: sessionID, Password: "other-password"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Cross-actor access must look like a missing session, got %v", err)
		}
	})
}

// TestDeanonymize tests mapping-based reconstruction
func TestDeanonymize(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, 5)

	result, err := h.svc.ProcessDocument(ctx, 1, "report.txt", sampleDocument)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	restored, err := h.svc.Deanonymize(ctx, 1, result.SessionID)
	if err != nil {
		t.Fatalf("Deanonymize failed: %v", err)
	}
	if restored != sampleDocument {
		t.Errorf("Reconstruction mismatch:\n got %q\nwant %q", restored, sampleDocument)
	}
}

// TestSearch tests keyword search over anonymized text
func TestSearch(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, 5)

	result, err := h.svc.ProcessDocument(ctx, 1, "report.txt", sampleDocument)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	matches, err := h.svc.Search(ctx, 1, result.SessionID, "logged")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected at least one match for a word in the document")
	}

	if _, err := h.svc.Search(ctx, 1, result.SessionID, "   "); err == nil {
		t.Error("Blank query must be rejected")
	}
}

// TestExportAndDelete tests the remaining session operations
func TestExportAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, 5)

	result, err := h.svc.ProcessDocument(ctx, 1, "report.txt", sampleDocument)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	session, err := h.svc.Export(ctx, 1, result.SessionID, "txt", "10.0.0.9")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if session.ExportCount != 1 {
		t.Errorf("Expected export count 1, got %d", session.ExportCount)
	}

	if err := h.svc.Delete(ctx, 1, result.SessionID, "10.0.0.9"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := h.store.GetSession(ctx, 1, result.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Error("Session should be gone after delete")
	}

	if err := h.svc.Delete(ctx, 1, result.SessionID, "10.0.0.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting a missing session should return ErrNotFound, got %v", err)
	}
}
