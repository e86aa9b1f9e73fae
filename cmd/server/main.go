package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"galleria/internal/config"
	"galleria/internal/handlers"
	"galleria/internal/logging"
	"galleria/internal/server"
	"galleria/internal/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Service: "galleria",
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SecretFromFallback {
		logger.Warn("signing media URLs with SECRET_KEY; set GALLERY_SIGNED_URL_SECRET to use a dedicated secret")
	}

	signer, err := cfg.Signer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.Options{
		Logger:              logger,
		Signer:              signer,
		APIKey:              cfg.APIKey,
		MediaRoot:           cfg.MediaRoot,
		SignRate:            cfg.SignRate,
		ShutdownGracePeriod: cfg.ShutdownGracePeriod,
	}

	if cfg.DatabaseURL != "" {
		if err := storage.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return err
		}

		store, err := storage.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		bucket, err := openBucket(ctx, cfg)
		if err != nil {
			return err
		}

		pictures, err := handlers.NewPictureHandler(store, bucket, signer, handlers.PictureHandlerConfig{FFProbeBin: cfg.FFProbeBin})
		if err != nil {
			return err
		}
		opts.Pictures = pictures
		logger.Info("picture api enabled", "storage_backend", cfg.StorageBackend)
	} else {
		logger.Warn("DATABASE_URL not set; picture api disabled")
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	return srv.Run(ctx, cfg.Addr())
}

func openBucket(ctx context.Context, cfg config.Config) (storage.Bucket, error) {
	switch cfg.StorageBackend {
	case "supabase":
		return storage.NewSupabaseBucket(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	default:
		return storage.NewS3Bucket(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
}
