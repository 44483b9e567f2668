package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/archive"
	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/logger"
	"github.com/covertlabs/pii-vault/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		sinceFlag  = flag.String("since", "", "Archive events after this RFC3339 timestamp (default: last 24h)")
		outputDir  = flag.String("output", "archives", "Output directory for Parquet files")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for database reads")
		verify     = flag.Bool("verify", false, "Read the archive back after writing and report row count")
	)
	flag.Parse()

	since := time.Now().Add(-24 * time.Hour)
	if *sinceFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *sinceFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --since timestamp: %v\n", err)
			os.Exit(1)
		}
		since = parsed
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting audit archive run",
		zap.Time("since", since),
		zap.String("output", *outputDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling archive run")
		cancel()
	}()

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

	archiver := archive.NewArchiver(st, log.WithComponent("archive").Logger)

	result, err := archiver.Run(ctx, archive.Config{
		Since:     since,
		BatchSize: *batchSize,
		OutputDir: *outputDir,
	})
	if err != nil {
		log.Fatal("Archive run failed", zap.Error(err))
	}

	fmt.Printf("Archived %d audit rows to %s in %s\n", result.RowsArchived, result.Path, result.Duration.Round(time.Millisecond))

	if *verify {
		records, err := archive.ReadArchive(result.Path)
		if err != nil {
			log.Fatal("Archive verification failed", zap.Error(err))
		}
		fmt.Printf("Verified: %d rows readable\n", len(records))
	}
}
