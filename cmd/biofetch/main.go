package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/biofetch/internal/batch"
	"github.com/italolelis/biofetch/internal/catalog"
	"github.com/italolelis/biofetch/internal/checksum"
	"github.com/italolelis/biofetch/internal/cleanup"
	"github.com/italolelis/biofetch/internal/config"
	"github.com/italolelis/biofetch/internal/http/rest"
	"github.com/italolelis/biofetch/internal/jobs"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/mirror"
	"github.com/italolelis/biofetch/internal/notifier"
	"github.com/italolelis/biofetch/internal/storage"
	"github.com/italolelis/biofetch/internal/storage/postgres"
	"github.com/italolelis/biofetch/internal/storage/sqlite"
	"github.com/italolelis/biofetch/internal/telemetry"
	"github.com/italolelis/biofetch/internal/transfer"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewContextHandler(handler))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("biofetch starting...", "log_level", cfg.LogLevel, "db_driver", cfg.DBDriver)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		StorageDir:     cfg.StorageDir,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	jobStore := storage.NewInstrumented(store, tel)

	// =========================================================================
	// Start Job Manager
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}

	verifier, err := checksum.New(cfg.ChecksumAlgorithm)
	if err != nil {
		return err
	}

	manager := jobs.NewManager(
		jobStore,
		cat,
		transfer.NewEngine(nil, cfg.TransferTimeout, tel),
		verifier,
		tel,
		jobs.Config{
			StorageDir:       cfg.StorageDir,
			Workers:          cfg.MaxParallel,
			QueueSize:        cfg.QueueSize,
			ProgressInterval: cfg.ProgressInterval,
		},
	)

	if _, err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	// =========================================================================
	// Start Notification
	listeners, err := setupListeners(gctx, cfg, tel)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return notifier.NewDispatcher(listeners...).Run(gctx, manager.OnJobCompleted, manager.OnJobFailed)
	})

	// =========================================================================
	// Start Cleanup
	if cfg.KeepArtifactsFor > 0 {
		cleaner := cleanup.NewCleaner(jobStore, cfg.CleanupInterval, cfg.KeepArtifactsFor)

		g.Go(func() error {
			return cleaner.Run(gctx)
		})
	}

	// =========================================================================
	// Start API Service
	api := rest.NewAPIHandler(manager, batch.NewCoordinator(manager, cat), cfg.Telemetry.ServiceVersion)
	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(api, database, tel, cfg.Web.CORSOrigins),
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"storage_dir", cfg.StorageDir,
		"max_parallel", cfg.MaxParallel,
		"retention", cfg.KeepArtifactsFor.String(),
		"checksum", verifier.Algorithm(),
	)

	err = g.Wait()
	manager.Close()

	return err
}

// openStore opens the job store selected by DB_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, storage.JobStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		return db, postgres.NewJobRepository(db), nil
	case "sqlite":
		db, err := sqlite.InitDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return db, sqlite.NewJobRepository(db), nil
	}

	return nil, nil, fmt.Errorf("invalid DB_DRIVER: %s", cfg.DBDriver)
}

// setupListeners builds the consumers of terminal job events.
func setupListeners(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) ([]notifier.Listener, error) {
	logger := logctx.LoggerFromContext(ctx)

	var listeners []notifier.Listener

	if cfg.DiscordWebhookURL != "" {
		listeners = append(listeners, &notifier.Messages{
			Notifier: &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL},
		})
	}

	if cfg.MirrorEnabled() {
		uploader, err := mirror.New(ctx, mirror.Config{
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
			Region:    cfg.Mirror.Region,
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
		}, tel)
		if err != nil {
			return nil, fmt.Errorf("failed to setup artifact mirror: %w", err)
		}

		logger.Info("mirroring artifacts", "bucket", cfg.Mirror.Bucket, "prefix", cfg.Mirror.Prefix)

		listeners = append(listeners, uploader)
	}

	return listeners, nil
}
