package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/retry"
)

// DefaultRedisPrefix — префикс ключей блокировок в Redis.
const DefaultRedisPrefix = "harvest:lock:"

// RedisStore — Store поверх Redis.
//
// Атомарность чтения-проверки-записи обеспечивает оптимистичная транзакция
// WATCH/MULTI/EXEC. Запись хранится с PX до expires_at, так что истёкшая
// аренда исчезает и без явного освобождения.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore создаёт RedisStore. Пустой prefix заменяется на DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient создаёт клиент по URL вида redis://host:port/db и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RecordKey возвращает ключ Redis для lockKey.
func (s *RedisStore) RecordKey(lockKey string) string {
	return s.prefix + lockKey
}

// Get реализует Store.
func (s *RedisStore) Get(ctx context.Context, lockKey string) (*domain.LockRecord, error) {
	return readRecord(ctx, s.client, s.RecordKey(lockKey))
}

// PutIfAvailable реализует Store.
func (s *RedisStore) PutIfAvailable(ctx context.Context, rec *domain.LockRecord, now time.Time) (bool, error) {
	key := s.RecordKey(rec.LockKey)

	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return false, fmt.Errorf("lock %s: lease already expired", rec.LockKey)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal lock record: %w", err)
	}

	acquired := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readRecord(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrLockNotFound) {
			return err
		}
		if !cur.CanBeTakenBy(rec.OperationID, now) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		acquired = true
		return nil
	}, key)

	// Ключ изменился между WATCH и EXEC: кто-то успел раньше.
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put lock %s: %w", rec.LockKey, err)
	}
	return acquired, nil
}

// Delete реализует Store.
func (s *RedisStore) Delete(ctx context.Context, lockKey, operationID string) error {
	key := s.RecordKey(lockKey)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if operationID != "" && cur.OperationID != operationID {
			return ErrNotOwner
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockNotFound), errors.Is(err, ErrNotOwner):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return &retry.Failure{Kind: retry.KindConflict, Message: "lock record changed during delete", Resource: lockKey, Err: err}
	default:
		return fmt.Errorf("delete lock %s: %w", lockKey, err)
	}
}

// recordReader — общее у *redis.Client и *redis.Tx.
type recordReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readRecord читает запись из Redis (клиент или транзакция).
func readRecord(ctx context.Context, c recordReader, key string) (*domain.LockRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lock record: %w", err)
	}

	var rec domain.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal lock record: %w", err)
	}
	return &rec, nil
}
