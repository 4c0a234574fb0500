package breaker

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки breaker.
var (
	// ErrCircuitOpen — вызов отклонён: breaker ресурса открыт.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrBreakerNotFound — для ресурса ещё не создан breaker.
	ErrBreakerNotFound = errors.New("breaker not found")
)

// OpenError — отказ открытого breaker'а. Вызов ресурса не выполнялся.
type OpenError struct {
	Resource string

	// RetryAfter — сколько осталось до пробного вызова (0 — пробный вызов уже идёт).
	RetryAfter time.Duration
}

// Error реализует error.
func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit open for %s (retry after %s)", e.Resource, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("circuit open for %s (probe in flight)", e.Resource)
}

// Is позволяет сравнивать с ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitOpen возвращает имя ресурса.
// По этому методу retry распознаёт отказ breaker'а и не повторяет вызов.
func (e *OpenError) CircuitOpen() string {
	return e.Resource
}
