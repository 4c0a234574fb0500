package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedDateRepo — отметки об обработанных бизнес-датах.
type ProcessedDateRepo struct {
	pool *pgxpool.Pool
}

// NewProcessedDateRepo создаёт новый ProcessedDateRepo.
func NewProcessedDateRepo(pool *pgxpool.Pool) *ProcessedDateRepo {
	return &ProcessedDateRepo{pool: pool}
}

// IsProcessed проверяет, отмечена ли дата как обработанная.
func (r *ProcessedDateRepo) IsProcessed(ctx context.Context, workflow, date string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_dates WHERE workflow_name = $1 AND business_date = $2::date`,
		workflow, date,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed date: %w", err)
	}
	return true, nil
}

// MarkProcessed отмечает дату как обработанную выполнением executionID.
// Возвращает false, если дата уже была отмечена.
func (r *ProcessedDateRepo) MarkProcessed(ctx context.Context, workflow, date string, executionID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO processed_dates (workflow_name, business_date, execution_id)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (workflow_name, business_date) DO NOTHING
	`, workflow, date, executionID)
	if err != nil {
		return false, fmt.Errorf("mark processed date: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
