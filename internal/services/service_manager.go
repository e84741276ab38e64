package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Service-specific configurations
	Exam     ServiceConfig
	Run      ServiceConfig
	Attempt  ServiceConfig
	Grading  ServiceConfig
	Archival ServiceConfig
	Export   ServiceConfig

	// SweepInterval drives the background expiry sweeper. Zero disables it.
	SweepInterval time.Duration
	Clock         Clock

	Publisher events.EventPublisher
	Blobs     storage.BlobStore
}

type ServiceConfig struct {
	Enabled bool
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	config    ServiceManagerConfig

	examService     ExamService
	runService      RunService
	attemptService  AttemptService
	answerService   AnswerService
	gradingService  GradingService
	archivalService ArchivalService
	exportService   ExportService
	sweeper         *ExpirySweeper

	stopSweeper context.CancelFunc

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		config:    config,
	}
}

// NewDefaultServiceManager enables every service with the system clock.
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, blobs storage.BlobStore) ServiceManager {
	enabled := ServiceConfig{Enabled: true}
	config := ServiceManagerConfig{
		LogLevel:      slog.LevelInfo,
		Exam:          enabled,
		Run:           enabled,
		Attempt:       enabled,
		Grading:       enabled,
		Archival:      enabled,
		Export:        enabled,
		SweepInterval: 30 * time.Second,
		Clock:         SystemClock,
		Publisher:     publisher,
		Blobs:         blobs,
	}
	return NewServiceManager(db, repo, logger, validator, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")
	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	cfg := sm.config

	if cfg.Exam.Enabled {
		exams, err := NewExamService(sm.repo, sm.db, sm.logger, sm.validator, cfg.Blobs, cfg.Publisher)
		if err != nil {
			return fmt.Errorf("exam service: %w", err)
		}
		sm.examService = exams
		sm.logger.Info("Exam service initialized")
	}

	if cfg.Run.Enabled {
		sm.runService = NewRunService(sm.repo, sm.db, sm.logger, sm.validator, cfg.Publisher, cfg.Clock)
		sm.logger.Info("Run service initialized")
	}

	if cfg.Attempt.Enabled {
		sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, cfg.Publisher, cfg.Clock)
		sm.answerService = NewAnswerService(sm.repo, sm.db, sm.logger, sm.validator, cfg.Blobs, cfg.Clock)
		sm.logger.Info("Attempt service initialized")
	}

	if cfg.Grading.Enabled {
		if sm.attemptService == nil {
			return fmt.Errorf("grading service requires the attempt service")
		}
		sm.gradingService = NewGradingService(sm.db, sm.repo, sm.logger, sm.validator, cfg.Publisher, sm.attemptService, cfg.Clock)
		sm.logger.Info("Grading service initialized")
	}

	if cfg.Archival.Enabled {
		sm.archivalService = NewArchivalService(sm.repo, sm.db, sm.logger, cfg.Publisher, cfg.Clock)
		sm.logger.Info("Archival service initialized")
	}

	if cfg.Export.Enabled {
		sm.exportService = NewExportService(sm.repo, sm.logger)
		sm.logger.Info("Export service initialized")
	}

	if sm.attemptService != nil && sm.runService != nil {
		sm.sweeper = NewExpirySweeper(sm.attemptService, sm.runService, cfg.SweepInterval, sm.logger)
		if cfg.SweepInterval > 0 {
			sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			sm.stopSweeper = cancel
			go sm.sweeper.Start(sweepCtx)
		}
	}
	return nil
}

// Service getters
func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.examService != nil {
		return sm.examService
	}
	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) Run() RunService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.runService != nil {
		return sm.runService
	}
	panic("run service not enabled or not initialized")
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.attemptService != nil {
		return sm.attemptService
	}
	panic("attempt service not enabled or not initialized")
}

func (sm *serviceManager) Answer() AnswerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.answerService != nil {
		return sm.answerService
	}
	panic("answer service not enabled or not initialized")
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.gradingService != nil {
		return sm.gradingService
	}
	panic("grading service not enabled or not initialized")
}

func (sm *serviceManager) Archival() ArchivalService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.archivalService != nil {
		return sm.archivalService
	}
	panic("archival service not enabled or not initialized")
}

func (sm *serviceManager) Export() ExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.exportService != nil {
		return sm.exportService
	}
	panic("export service not enabled or not initialized")
}

func (sm *serviceManager) Sweeper() *ExpirySweeper {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.sweeper != nil {
		return sm.sweeper
	}
	panic("sweeper needs the attempt and run services")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.stopSweeper != nil {
		sm.stopSweeper()
	}

	if sm.config.Publisher != nil {
		if err := sm.config.Publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if manager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := manager.Shutdown(ctx); err != nil {
			sm.logger.Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")
	return nil
}
