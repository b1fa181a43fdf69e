/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Hero Coins ledger service.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Build the zap logger
  3. Open the document store (file, sqlite or memory)
  4. Create the ledger, authorizer and scope resolver
  5. Configure backup sinks and start the scheduler
  6. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  --config          YAML configuration file
  --port, -p        HTTP server port (default: 8080)
  --store           file | sqlite | memory (default: file)
  --data            document path (default: hero_coins_data.json)
  --corrupt-policy  recover | fail
  --per-channel     one ledger per channel
  --gm-user         user ID always allowed GM commands
  --gm-role         role allowed GM commands
  --log-level       debug | info | warn | error
  --log-format      json | console
  --backup-interval interval between scheduled backups
  --backup-dir      directory for scheduled backups

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the backup scheduler
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with the JSON file store
  ./server --data=./data/hero_coins_data.json

  # Per-channel ledgers in SQLite
  ./server --store=sqlite --data=./data/hero_coins.db --per-channel

  # Throwaway in-memory ledger
  ./server --store=memory --log-format=console --log-level=debug

SEE ALSO:
  - config/config.go: Configuration layers and environment variables
  - api/server.go: Router configuration
  - ledger/ledger.go: Ledger operations
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/api"
	"github.com/KalSunchaser77/hero-coins-bot/backup"
	"github.com/KalSunchaser77/hero-coins-bot/config"
	"github.com/KalSunchaser77/hero-coins-bot/ledger"
	"github.com/KalSunchaser77/hero-coins-bot/ledger/store"
	"github.com/KalSunchaser77/hero-coins-bot/store/file"
	"github.com/KalSunchaser77/hero-coins-bot/store/sqlite"
)

// documentStore is a ledger.Store the process must close on exit.
type documentStore interface {
	ledger.Store
	io.Closer
}

type memoryStore struct{ *store.Memory }

func (memoryStore) Close() error { return nil }

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	// Initialize store
	docs, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer docs.Close()

	// Initialize ledger
	l := ledger.New(docs, logger.Named("ledger"))
	auth := ledger.NewAuthorizer(cfg.GMUserID, cfg.GMRoleName)
	resolver := ledger.Resolver{PerChannel: cfg.PerChannel}

	// Backups
	sinks, err := backupSinks(context.Background(), cfg.Backup)
	if err != nil {
		logger.Fatal("failed to configure backups", zap.Error(err))
	}
	var backups *backup.Scheduler
	if len(sinks) > 0 {
		backups = backup.NewScheduler(l, cfg.Backup.Interval, logger.Named("backup"), sinks...)
		if err := backups.Start(); err != nil {
			logger.Fatal("failed to start backup scheduler", zap.Error(err))
		}
	}

	// Create router
	handler := api.NewHandler(l, auth, resolver, backups, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{GatewayToken: cfg.GatewayToken})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("store", cfg.Store),
			zap.String("mode", resolver.Mode()),
			zap.Bool("gateway_auth", cfg.GatewayToken != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if backups != nil {
		if err := backups.Stop(); err != nil {
			logger.Warn("backup scheduler stop failed", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func openStore(cfg config.Config, logger *zap.Logger) (documentStore, error) {
	log := logger.Named("store")
	switch cfg.Store {
	case config.StoreSQLite:
		return sqlite.New(cfg.DataPath, cfg.Policy(), log)
	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return memoryStore{store.NewMemoryWithPolicy(cfg.Policy(), log)}, nil
	default:
		return file.New(cfg.DataPath, cfg.Policy(), log)
	}
}

func backupSinks(ctx context.Context, cfg config.BackupConfig) ([]backup.Sink, error) {
	var sinks []backup.Sink
	if cfg.Dir != "" {
		dir, err := backup.NewDirSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dir)
	}
	if cfg.S3.Bucket != "" {
		s3, err := backup.NewS3Sink(ctx, backup.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3)
	}
	return sinks, nil
}
