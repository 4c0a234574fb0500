package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Harvest/internal/domain"
)

// ExecutionRepo — append-only хранилище записей выполнений.
//
// Одна строка workflow_executions на WorkflowExecution и по строке
// scraper_executions на каждый ScraperExecution.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Save сохраняет агрегат вместе с ScraperExecutions в одной транзакции.
//
// Вставка идемпотентна по execution_id: если агрегат уже сохранён,
// возвращает inserted == false без ошибки.
func (r *ExecutionRepo) Save(ctx context.Context, w *domain.WorkflowExecution) (inserted bool, err error) {
	requestedJSON, err := json.Marshal(w.ScrapersRequested)
	if err != nil {
		return false, fmt.Errorf("marshal scrapers_requested: %w", err)
	}
	skipped := w.SkippedScrapers
	if skipped == nil {
		skipped = []string{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return false, fmt.Errorf("marshal skipped_scrapers: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workflow_executions (
			execution_id, workflow_name, decision_id, execution_time, status,
			scrapers_requested, skipped_scrapers, scrapers_triggered,
			scrapers_succeeded, scrapers_failed, duration_ms, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (execution_id) DO NOTHING
	`
	result, err := tx.Exec(ctx, query,
		w.ExecutionID,
		w.WorkflowName,
		w.DecisionID,
		w.ExecutionTime,
		w.Status,
		requestedJSON,
		skippedJSON,
		w.ScrapersTriggered,
		w.ScrapersSucceeded,
		w.ScrapersFailed,
		w.Duration.Milliseconds(),
		nullString(w.Error),
	)
	if err != nil {
		return false, fmt.Errorf("insert workflow execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	batch := &pgx.Batch{}
	for i, se := range w.ScraperExecutions {
		var summaryJSON []byte
		if se.DataSummary != nil {
			summaryJSON, err = json.Marshal(se.DataSummary)
			if err != nil {
				return false, fmt.Errorf("marshal data_summary for %s: %w", se.ScraperName, err)
			}
		}

		batch.Queue(`
			INSERT INTO scraper_executions (
				workflow_execution_id, position, workflow_name, decision_id,
				scraper_name, status, execution_id, attempts, duration_ms,
				record_count, error_message, error_class, data_summary, started_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			w.ExecutionID,
			i,
			w.WorkflowName,
			w.DecisionID,
			se.ScraperName,
			se.Status,
			nullString(se.ExecutionID),
			se.Attempts,
			se.Duration.Milliseconds(),
			se.RecordCount,
			nullString(se.ErrorMessage),
			nullString(se.ErrorClass),
			summaryJSON,
			se.StartedAt,
		)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("insert scraper executions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SucceededScrapers возвращает scrapers, уже успешно выполненные
// для решения decisionID workflow'а workflow (по всем прошлым выполнениям).
func (r *ExecutionRepo) SucceededScrapers(ctx context.Context, workflow, decisionID string) ([]string, error) {
	query := `
		SELECT DISTINCT scraper_name
		FROM scraper_executions
		WHERE workflow_name = $1 AND decision_id = $2 AND status = 'success'
	`
	rows, err := r.pool.Query(ctx, query, workflow, decisionID)
	if err != nil {
		return nil, fmt.Errorf("query succeeded scrapers: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan succeeded scrapers: %w", err)
	}
	return names, nil
}

// GetByID возвращает выполнение вместе с ScraperExecutions.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	query := `
		SELECT execution_id, workflow_name, decision_id, execution_time, status,
		       scrapers_requested, skipped_scrapers, scrapers_triggered,
		       scrapers_succeeded, scrapers_failed, duration_ms, error
		FROM workflow_executions
		WHERE execution_id = $1
	`
	w, err := r.scanExecution(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	children, err := r.listScraperExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	w.ScraperExecutions = children
	return w, nil
}

// List возвращает выполнения workflow (без ScraperExecutions), новые первыми.
func (r *ExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]domain.WorkflowExecution, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `
		SELECT execution_id, workflow_name, decision_id, execution_time, status,
		       scrapers_requested, skipped_scrapers, scrapers_triggered,
		       scrapers_succeeded, scrapers_failed, duration_ms, error
		FROM workflow_executions
		WHERE workflow_name = $1
		  AND ($2::text IS NULL OR decision_id = $2)
		ORDER BY execution_time DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.Workflow,
		nullString(filter.DecisionID),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflow executions: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowExecution
	for rows.Next() {
		w, err := r.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// --- Helpers ---

// ExecutionFilter — параметры фильтрации выполнений.
type ExecutionFilter struct {
	Workflow   string
	DecisionID string
	Limit      int
	Offset     int
}

func (r *ExecutionRepo) listScraperExecutions(ctx context.Context, workflowExecutionID uuid.UUID) ([]*domain.ScraperExecution, error) {
	query := `
		SELECT scraper_name, status, execution_id, attempts, duration_ms,
		       record_count, error_message, error_class, data_summary, started_at
		FROM scraper_executions
		WHERE workflow_execution_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, query, workflowExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list scraper executions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScraperExecution
	for rows.Next() {
		var (
			se          domain.ScraperExecution
			execID      *string
			errMsg      *string
			errClass    *string
			summaryJSON []byte
			durationMs  int64
		)
		err := rows.Scan(
			&se.ScraperName,
			&se.Status,
			&execID,
			&se.Attempts,
			&durationMs,
			&se.RecordCount,
			&errMsg,
			&errClass,
			&summaryJSON,
			&se.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan scraper execution: %w", err)
		}

		se.ExecutionID = derefString(execID)
		se.ErrorMessage = derefString(errMsg)
		se.ErrorClass = derefString(errClass)
		se.Duration = time.Duration(durationMs) * time.Millisecond

		if summaryJSON != nil {
			if err := json.Unmarshal(summaryJSON, &se.DataSummary); err != nil {
				return nil, fmt.Errorf("unmarshal data_summary: %w", err)
			}
		}
		out = append(out, &se)
	}
	return out, rows.Err()
}

// scanExecution сканирует одну строку workflow_executions.
func (r *ExecutionRepo) scanExecution(row pgx.Row) (*domain.WorkflowExecution, error) {
	var (
		w             domain.WorkflowExecution
		requestedJSON []byte
		skippedJSON   []byte
		durationMs    int64
		execError     *string
	)

	err := row.Scan(
		&w.ExecutionID,
		&w.WorkflowName,
		&w.DecisionID,
		&w.ExecutionTime,
		&w.Status,
		&requestedJSON,
		&skippedJSON,
		&w.ScrapersTriggered,
		&w.ScrapersSucceeded,
		&w.ScrapersFailed,
		&durationMs,
		&execError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow execution: %w", err)
	}

	if err := json.Unmarshal(requestedJSON, &w.ScrapersRequested); err != nil {
		return nil, fmt.Errorf("unmarshal scrapers_requested: %w", err)
	}
	if skippedJSON != nil {
		if err := json.Unmarshal(skippedJSON, &w.SkippedScrapers); err != nil {
			return nil, fmt.Errorf("unmarshal skipped_scrapers: %w", err)
		}
	}
	w.Duration = time.Duration(durationMs) * time.Millisecond
	w.Error = derefString(execError)

	return &w, nil
}
