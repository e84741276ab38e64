package repositories

import "context"

// Repository aggregates the engine repositories.
type Repository interface {
	Exam() ExamRepository
	Run() RunRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository
	Canvas() CanvasRepository

	// Roster and accounts (read-only, external)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryManager manages repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
