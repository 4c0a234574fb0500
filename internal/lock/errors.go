package lock

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки блокировок.
var (
	// ErrLockAcquisitionTimeout — блокировку не удалось захватить за max_wait.
	ErrLockAcquisitionTimeout = errors.New("lock acquisition timeout")

	// ErrLockNotFound — записи блокировки нет (освобождена или не существовала).
	ErrLockNotFound = errors.New("lock not found")

	// ErrNotOwner — блокировка принадлежит другой операции.
	ErrNotOwner = errors.New("lock held by another operation")

	// ErrLeaseLost — аренду перехватили, пока операция выполнялась под WithLock.
	ErrLeaseLost = errors.New("lock lease lost")
)

// AcquisitionError — блокировка не захвачена за отведённое время.
type AcquisitionError struct {
	LockKey string

	// Holder — операция, которая держала блокировку при последней попытке (если известна).
	Holder string

	Waited time.Duration
}

// Error реализует error.
func (e *AcquisitionError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("%s: %s held by %s, waited %s", ErrLockAcquisitionTimeout, e.LockKey, e.Holder, e.Waited)
	}
	return fmt.Sprintf("%s: %s, waited %s", ErrLockAcquisitionTimeout, e.LockKey, e.Waited)
}

// Is позволяет сравнивать с ErrLockAcquisitionTimeout.
func (e *AcquisitionError) Is(target error) bool {
	return target == ErrLockAcquisitionTimeout
}
