package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/document"
	"github.com/covertlabs/pii-vault/internal/vault"
)

const defaultAuditLimit = 50

// handleUpload accepts a document, runs the anonymization pipeline, and
// returns the new session. Accepts multipart form uploads (field "file")
// or a JSON body with "text".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())

	filename, text, err := s.readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.vault.ProcessDocument(r.Context(), actorID, filename, text)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// readUpload extracts the document text from either upload shape.
func (s *Server) readUpload(r *http.Request) (filename, text string, err error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, document.MaxDocumentSize+1))
		if err != nil {
			return "", "", fmt.Errorf("failed to read upload: %w", err)
		}

		text, err := document.TextExtractor{}.Extract(data)
		if err != nil {
			return "", "", err
		}
		return header.Filename, text, nil
	}

	var body struct {
		Filename string `json:"filename"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, document.MaxDocumentSize+1)).Decode(&body); err != nil {
		return "", "", fmt.Errorf("invalid request body: %w", err)
	}
	if body.Filename == "" {
		body.Filename = "document.txt"
	}
	return body.Filename, body.Text, nil
}

// handleListSessions lists the actor's sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())

	sessions, err := s.vault.Sessions(r.Context(), actorID)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	type sessionSummary struct {
		ID               string    `json:"id"`
		OriginalFilename string    `json:"original_filename"`
		UploadTimestamp  time.Time `json:"upload_timestamp"`
		ExportCount      int       `json:"export_count"`
		LastAccessed     time.Time `json:"last_accessed"`
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:               sess.ID,
			OriginalFilename: sess.OriginalFilename,
			UploadTimestamp:  sess.UploadTimestamp,
			ExportCount:      sess.ExportCount,
			LastAccessed:     sess.LastAccessed,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// handleGetSession returns the anonymized view of one session. Encrypted
// material never leaves the service on this route.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	sessions, err := s.vault.Sessions(r.Context(), actorID)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	for _, sess := range sessions {
		if sess.ID == sessionID {
			writeJSON(w, http.StatusOK, map[string]any{
				"id":                sess.ID,
				"original_filename": sess.OriginalFilename,
				"upload_timestamp":  sess.UploadTimestamp,
				"anonymized_text":   sess.AnonymizedText,
				"export_count":      sess.ExportCount,
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, vault.ErrNotFound.Error())
}

// handleDeleteSession deletes a session and its dependent rows
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	if err := s.vault.Delete(r.Context(), actorID, sessionID, getClientIP(r)); err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

// handleSearch runs a keyword search over a session's anonymized text
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]
	query := r.URL.Query().Get("q")

	contexts, err := s.vault.Search(r.Context(), actorID, sessionID, query)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"query":      query,
		"matches":    contexts,
	})
}

// handleMappings returns the placeholder assignments for a session;
// original values are never exposed here.
func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	mappings, err := s.vault.Mappings(r.Context(), actorID, sessionID)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"mappings":   mappings,
	})
}

// handleDecrypt attempts a gated, audited decrypt of the original document
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.vault.Decrypt(r.Context(), vault.DecryptRequest{
		ActorID:    actorID,
		SessionID:  sessionID,
		Password:   body.Password,
		SourceAddr: getClientIP(r),
	})
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCanDecrypt reports remaining decrypt attempts without consuming one
func (s *Server) handleCanDecrypt(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	status, err := s.vault.CanDecrypt(r.Context(), actorID, sessionID)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAuditLog returns the decrypt audit trail for a session
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	sessionID := mux.Vars(r)["id"]

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.vault.AuditLog(r.Context(), actorID, sessionID, limit)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
	})
}

// handleExport renders the anonymized document for download
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	actorID := getActorID(r.Context())
	vars := mux.Vars(r)
	sessionID := vars["id"]

	renderer, err := document.RendererFor(vars["format"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.vault.Export(r.Context(), actorID, sessionID, vars["format"], getClientIP(r))
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	payload, err := renderer.Render(document.Export{
		SessionID:      session.ID,
		AnonymizedText: session.AnonymizedText,
		ExportedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", renderer.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_anonymized.%s", sessionID, renderer.Extension())))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// writeVaultError maps vault errors onto HTTP status codes
func (s *Server) writeVaultError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *vault.ValidationError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, vault.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, vault.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vault.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
