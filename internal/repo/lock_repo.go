package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/lock"
)

// LockRepo — lock.Store поверх таблицы distributed_locks.
//
// Захват — один INSERT ... ON CONFLICT DO UPDATE с условием в WHERE:
// строка перезаписывается, только если аренда истекла или принадлежит той же операции.
type LockRepo struct {
	pool *pgxpool.Pool
}

var (
	_ lock.Store   = (*LockRepo)(nil)
	_ lock.Sweeper = (*LockRepo)(nil)
)

// NewLockRepo создаёт новый LockRepo.
func NewLockRepo(pool *pgxpool.Pool) *LockRepo {
	return &LockRepo{pool: pool}
}

// Get реализует lock.Store.
func (r *LockRepo) Get(ctx context.Context, lockKey string) (*domain.LockRecord, error) {
	query := `
		SELECT lock_key, holder_id, operation_id, acquired_at, expires_at
		FROM distributed_locks
		WHERE lock_key = $1
	`
	rec, err := scanLock(r.pool.QueryRow(ctx, query, lockKey))
	if errors.Is(err, ErrNotFound) {
		return nil, lock.ErrLockNotFound
	}
	return rec, err
}

// PutIfAvailable реализует lock.Store.
func (r *LockRepo) PutIfAvailable(ctx context.Context, rec *domain.LockRecord, now time.Time) (bool, error) {
	query := `
		INSERT INTO distributed_locks (lock_key, holder_id, operation_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lock_key) DO UPDATE
		SET holder_id    = EXCLUDED.holder_id,
		    operation_id = EXCLUDED.operation_id,
		    acquired_at  = EXCLUDED.acquired_at,
		    expires_at   = EXCLUDED.expires_at
		WHERE distributed_locks.expires_at <= $6
		   OR distributed_locks.operation_id = EXCLUDED.operation_id
		RETURNING lock_key
	`
	var key string
	err := r.pool.QueryRow(ctx, query,
		rec.LockKey,
		rec.HolderID,
		rec.OperationID,
		rec.AcquiredAt,
		rec.ExpiresAt,
		now,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert lock: %w", err)
	}
	return true, nil
}

// Delete реализует lock.Store.
func (r *LockRepo) Delete(ctx context.Context, lockKey, operationID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx,
		`SELECT operation_id FROM distributed_locks WHERE lock_key = $1 FOR UPDATE`,
		lockKey,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return lock.ErrLockNotFound
	}
	if err != nil {
		return fmt.Errorf("select lock: %w", err)
	}

	if operationID != "" && owner != operationID {
		return lock.ErrNotOwner
	}

	if _, err := tx.Exec(ctx, `DELETE FROM distributed_locks WHERE lock_key = $1`, lockKey); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteExpired удаляет записи с истёкшей арендой. Возвращает число удалённых.
// Реализует lock.Sweeper.
func (r *LockRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM distributed_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanLock(row pgx.Row) (*domain.LockRecord, error) {
	var rec domain.LockRecord
	err := row.Scan(
		&rec.LockKey,
		&rec.HolderID,
		&rec.OperationID,
		&rec.AcquiredAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	return &rec, nil
}
