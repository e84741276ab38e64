package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/exam-attempt-service/internal/config"
	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories/casdoor"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
	"github.com/SAP-F-2025/exam-attempt-service/pkg"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg         *config.Config
	slog        *slog.Logger
	logger      utils.Logger
	repoManager repositories.RepositoryManager
	repo        repositories.Repository
	services    services.ServiceManager
	stopAudit   context.CancelFunc
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newApp loads config and connects storage. The background sweeper only
// runs for long-lived processes.
func newApp(cmd *cobra.Command, background bool) (*app, error) {
	cfg, err := config.LoadConfigFrom(viperForCmd(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slogLogger := newLogger(cfg)
	slog.SetDefault(slogLogger)
	a := &app{cfg: cfg, slog: slogLogger, logger: utils.NewSlogLogger(slogLogger)}

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			// caching is optional
			a.logger.Warn("Redis unavailable, continuing without cache", "error", err)
			redisClient = nil
		}
	}

	a.repoManager = postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	})
	if err := a.repoManager.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	a.repo = a.repoManager.GetRepository()

	publisher, err := a.newPublisher(background)
	if err != nil {
		_ = a.repoManager.Shutdown(context.Background())
		return nil, err
	}

	blobs, err := a.newBlobStore()
	if err != nil {
		_ = publisher.Close()
		_ = a.repoManager.Shutdown(context.Background())
		return nil, err
	}

	enabled := services.ServiceConfig{Enabled: true}
	smConfig := services.ServiceManagerConfig{
		LogLevel:  cfg.LogLevel,
		Exam:      enabled,
		Run:       enabled,
		Attempt:   enabled,
		Grading:   enabled,
		Archival:  enabled,
		Export:    enabled,
		Clock:     services.SystemClock,
		Publisher: publisher,
		Blobs:     blobs,
	}
	if background {
		smConfig.SweepInterval = cfg.SweepInterval
	}

	a.services = services.NewServiceManager(db, a.repo, slogLogger, validator.New(), smConfig)
	if err := a.services.Initialize(cmd.Context()); err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return a, nil
}

// newPublisher prefers Kafka. Without brokers, a long-lived process logs
// its own events from the in-process bus.
func (a *app) newPublisher(background bool) (events.EventPublisher, error) {
	if a.cfg.Kafka.Enabled() {
		return events.NewKafkaEventPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.slog)
	}

	publisher, pubSub := events.NewInProcessEventPublisher(a.cfg.Kafka.Topic, a.slog)
	if background {
		ctx, cancel := context.WithCancel(context.Background())
		if err := events.RunAuditLog(ctx, pubSub, a.cfg.Kafka.Topic, a.slog.With("component", "audit")); err != nil {
			cancel()
			_ = publisher.Close()
			return nil, err
		}
		a.stopAudit = cancel
	}
	return publisher, nil
}

func (a *app) newBlobStore() (storage.BlobStore, error) {
	if a.cfg.Cloudinary.Enabled() {
		return storage.NewCloudinaryStore(storage.CloudinaryConfig{
			CloudName: a.cfg.Cloudinary.CloudName,
			APIKey:    a.cfg.Cloudinary.APIKey,
			APISecret: a.cfg.Cloudinary.APISecret,
			Folder:    a.cfg.Cloudinary.Folder,
		}, a.slog)
	}
	return storage.NewFSStore(a.cfg.BlobDir)
}

// close stops the sweeper and publisher, then the database and Redis.
func (a *app) close(ctx context.Context) {
	if err := a.services.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to shutdown services", "error", err)
	}
	if a.stopAudit != nil {
		a.stopAudit()
	}
	if err := a.repoManager.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to close repositories", "error", err)
	}
}
