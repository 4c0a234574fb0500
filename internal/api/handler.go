package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/breaker"
	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/orchestrator"
	"github.com/shaiso/Harvest/internal/repo"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Submitter принимает решения к выполнению.
type Submitter interface {
	Submit(ctx context.Context, d *domain.Decision) error
	ActiveDecisions() []orchestrator.ActiveDecision
}

// Executions читает записи выполнений.
type Executions interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error)
	List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.WorkflowExecution, error)
}

// Handler — обработчик API с зависимостями.
type Handler struct {
	submitter  Submitter
	executions Executions
	breakers   *breaker.Manager
	locker     *lock.Locker
	logger     *slog.Logger
}

// Config — зависимости Handler.
type Config struct {
	Submitter  Submitter
	Executions Executions
	Breakers   *breaker.Manager
	Locker     *lock.Locker
	Logger     *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		submitter:  cfg.Submitter,
		executions: cfg.Executions,
		breakers:   cfg.Breakers,
		locker:     cfg.Locker,
		logger:     telemetry.OrDefault(cfg.Logger),
	}
}
