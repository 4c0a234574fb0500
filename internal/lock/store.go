package lock

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Harvest/internal/domain"
)

// Store — транзакционное key-value хранилище записей блокировок.
//
// PutIfAvailable обязан выполнять чтение, проверку и запись атомарно:
// два конкурентных вызова для одного ключа не могут оба вернуть true.
type Store interface {
	// Get возвращает текущую запись или ErrLockNotFound.
	Get(ctx context.Context, lockKey string) (*domain.LockRecord, error)

	// PutIfAvailable записывает rec, если для rec.LockKey нет записи,
	// она истекла на момент now или принадлежит той же операции.
	PutIfAvailable(ctx context.Context, rec *domain.LockRecord, now time.Time) (bool, error)

	// Delete удаляет запись. Пустой operationID удаляет без проверки владельца.
	// Возвращает ErrLockNotFound или ErrNotOwner.
	Delete(ctx context.Context, lockKey, operationID string) error
}

// MemoryStore — Store в памяти процесса. Годится для одного экземпляра и тестов.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.LockRecord
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.LockRecord)}
}

// Get реализует Store.
func (s *MemoryStore) Get(_ context.Context, lockKey string) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[lockKey]
	if !ok {
		return nil, ErrLockNotFound
	}
	return &rec, nil
}

// PutIfAvailable реализует Store.
func (s *MemoryStore) PutIfAvailable(_ context.Context, rec *domain.LockRecord, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.LockKey]; ok && !cur.CanBeTakenBy(rec.OperationID, now) {
		return false, nil
	}
	s.records[rec.LockKey] = *rec
	return true, nil
}

// Delete реализует Store.
func (s *MemoryStore) Delete(_ context.Context, lockKey, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[lockKey]
	if !ok {
		return ErrLockNotFound
	}
	if operationID != "" && cur.OperationID != operationID {
		return ErrNotOwner
	}
	delete(s.records, lockKey)
	return nil
}

// DeleteExpired реализует Sweeper.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if rec.IsExpired(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}
