package domain

import "time"

// LockRecord — запись распределённой блокировки.
//
// Для одного LockKey существует не больше одной неистёкшей записи.
// Истёкшая запись логически отсутствует и может быть перезаписана.
type LockRecord struct {
	// LockKey — ключ блокировки: "{lock_type}_{business_key}".
	LockKey string `json:"lock_key"`

	// HolderID — идентификатор процесса-владельца.
	HolderID string `json:"holder_id"`

	// OperationID — идентификатор операции, которая держит блокировку.
	OperationID string `json:"operation_id"`

	// AcquiredAt — время захвата.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — время истечения аренды.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired возвращает true, если аренда истекла на момент now.
func (r *LockRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CanBeTakenBy возвращает true, если операция operationID может записать
// новую аренду поверх текущей записи: записи нет, она истекла
// или уже принадлежит этой же операции.
func (r *LockRecord) CanBeTakenBy(operationID string, now time.Time) bool {
	if r == nil {
		return true
	}
	return r.IsExpired(now) || r.OperationID == operationID
}
