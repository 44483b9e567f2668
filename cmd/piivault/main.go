package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/audit"
	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/crypto"
	"github.com/covertlabs/pii-vault/internal/events"
	"github.com/covertlabs/pii-vault/internal/logger"
	"github.com/covertlabs/pii-vault/internal/pii"
	"github.com/covertlabs/pii-vault/internal/ratelimit"
	"github.com/covertlabs/pii-vault/internal/server"
	"github.com/covertlabs/pii-vault/internal/store"
	"github.com/covertlabs/pii-vault/internal/vault"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("PII-Vault %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PII-Vault",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detection pipeline
	detector, err := pii.NewDetector(cfg.Detection, log.WithComponent("detector").Logger)
	if err != nil {
		log.Fatal("Failed to create detector", zap.Error(err))
	}

	var recognizer pii.Recognizer = pii.NoopRecognizer{}
	if cfg.Detection.Model.Enabled {
		local := pii.NewLocalRecognizer(
			log.WithComponent("recognizer").Logger,
			cfg.Detection.Model.Path,
			cfg.Detection.Model.MaxLength,
		)
		defer local.Close()
		recognizer = local
	}

	// Encryption service
	cryptoSvc, err := crypto.NewService(cfg.Encryption.SecretKey)
	if err != nil {
		log.Fatal("Failed to create encryption service", zap.Error(err))
	}

	// Persistence
	st, err := store.NewStore(&store.Config{
		DatabaseURL:     cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer st.Close()

	// Decrypt gate limiter
	limiter, err := buildLimiter(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create decrypt limiter", zap.Error(err))
	}

	// Audit trail
	recorder := audit.NewRecorder(st, log.WithComponent("audit").Logger)

	// Live event feed
	hub := events.NewHub(cfg.Events, log.WithComponent("events").Logger)
	go hub.Run()

	// Vault service
	svc := vault.New(
		detector,
		recognizer,
		cryptoSvc,
		st,
		recorder,
		limiter,
		cfg.DecryptGate,
		cfg.Anonymizer,
		hub,
		log.WithComponent("vault").Logger,
	)

	// HTTP server
	srv := server.New(cfg, log, svc, hub)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// buildLimiter creates the configured decrypt attempt limiter backend.
func buildLimiter(ctx context.Context, cfg *config.Config, log *logger.Logger) (ratelimit.Limiter, error) {
	limits := ratelimit.Config{
		MaxAttempts: cfg.DecryptGate.MaxAttempts,
		Window:      cfg.DecryptGate.Window,
	}

	switch cfg.DecryptGate.Backend {
	case "redis":
		return ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			URL:            cfg.DecryptGate.Redis.URL,
			MaxConnections: cfg.DecryptGate.Redis.MaxConnections,
			KeyPrefix:      cfg.DecryptGate.Redis.KeyPrefix,
		}, limits, log.WithComponent("ratelimit").Logger)
	case "memory", "":
		limiter := ratelimit.NewMemoryLimiter(limits)
		limiter.StartCleanupRoutine(ctx, 10*time.Minute)
		return limiter, nil
	default:
		return nil, fmt.Errorf("unknown decrypt gate backend: %s", cfg.DecryptGate.Backend)
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
