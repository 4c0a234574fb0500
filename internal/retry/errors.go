package retry

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки retry.
var (
	// ErrRetryExhausted — исчерпан deadline или число попыток класса.
	ErrRetryExhausted = errors.New("retry exhausted")
)

// ExhaustedError — retry остановлен: deadline класса (или контекста) исчерпан.
type ExhaustedError struct {
	Class    Class
	Attempts int
	Elapsed  time.Duration
	Last     error
}

// Error реализует error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts (%s, %s): %v",
		ErrRetryExhausted, e.Attempts, e.Class, e.Elapsed.Round(time.Millisecond), e.Last)
}

// Unwrap позволяет проверять и ErrRetryExhausted, и последнюю ошибку.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}
