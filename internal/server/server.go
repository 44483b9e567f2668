// Package server exposes the vault over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/events"
	"github.com/covertlabs/pii-vault/internal/logger"
	"github.com/covertlabs/pii-vault/internal/vault"
)

// Server represents the main API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	vault    *vault.Service
	hub      *events.Hub
	router   *mux.Router
	server   *http.Server
	throttle *rate.Limiter
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, svc *vault.Service, hub *events.Hub) *Server {
	router := mux.NewRouter()

	server := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		vault:    svc,
		hub:      hub,
		router:   router,
		throttle: rate.NewLimiter(rate.Limit(cfg.Server.Throttle.RequestsPerSec), cfg.Server.Throttle.Burst),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health and info endpoints stay outside the throttle
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket endpoint for the live event feed
	if s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.throttleMiddleware)
	api.Use(s.actorMiddleware)

	api.HandleFunc("/documents", s.handleUpload).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/search", s.handleSearch).Methods("GET")
	api.HandleFunc("/sessions/{id}/mappings", s.handleMappings).Methods("GET")
	api.HandleFunc("/decrypt/{id}", s.handleDecrypt).Methods("POST")
	api.HandleFunc("/decrypt/{id}/can-decrypt", s.handleCanDecrypt).Methods("GET")
	api.HandleFunc("/decrypt/{id}/audit-log", s.handleAuditLog).Methods("GET")
	api.HandleFunc("/export/{id}/{format}", s.handleExport).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PII vault server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("events_enabled", s.config.Events.Enabled),
		zap.String("decrypt_backend", s.config.DecryptGate.Backend),
	)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII vault server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"pii-vault",
		"version":"0.1.0",
		"model_enabled":%t,
		"max_decrypt_attempts":%d,
		"decrypt_window":"%s"
	}`, s.config.Detection.Model.Enabled, s.config.DecryptGate.MaxAttempts, s.config.DecryptGate.Window)
}

// handleWebSocket upgrades connections for the live event feed
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}
