package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Class — класс ошибки, определяющий политику retry.
type Class string

const (
	// ClassContention — конфликт конкурентной записи в одну партицию хранилища.
	ClassContention Class = "contention"

	// ClassOverload — превышен лимит конкурентности или квота ресурса.
	ClassOverload Class = "overload"

	// ClassTransientInfra — зависимость временно недоступна или вызов не уложился в таймаут.
	ClassTransientInfra Class = "transient_infra"

	// ClassCircuitOpen — вызов отклонён circuit breaker'ом (не retry).
	ClassCircuitOpen Class = "circuit_open"

	// ClassFatal — всё остальное: retry бессмыслен.
	ClassFatal Class = "fatal"
)

// IsRetryable возвращает true для классов, которые повторяются.
func (c Class) IsRetryable() bool {
	switch c {
	case ClassContention, ClassOverload, ClassTransientInfra:
		return true
	default:
		return false
	}
}

// Виды ошибок в Failure.Kind.
const (
	KindTimeout       = "timeout"
	KindConnection    = "connection"
	KindHTTP          = "http"
	KindConflict      = "conflict"
	KindOverload      = "overload"
	KindUnavailable   = "unavailable"
	KindScraperFailed = "scraper_failed"
	KindStorage       = "storage"
	KindCircuitOpen   = "circuit_open"
)

// Failure — нормализованный конверт ошибки.
//
// Классификация работает только с полями конверта и не зависит
// от иерархии ошибок конкретного клиента.
type Failure struct {
	// StatusCode — HTTP-код (0, если ответа не было).
	StatusCode int

	// Message — текст ошибки.
	Message string

	// Kind — вид ошибки (timeout, connection, http, ...).
	Kind string

	// Code — код ошибки хранилища (например, SQLSTATE).
	Code string

	// Resource — имя ресурса, если его удалось определить.
	Resource string

	// Err — исходная ошибка.
	Err error
}

// Error реализует error.
func (f *Failure) Error() string {
	var b strings.Builder
	if f.Resource != "" {
		b.WriteString(f.Resource)
		b.WriteString(": ")
	}
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, "HTTP %d: ", f.StatusCode)
	}
	switch {
	case f.Message != "":
		b.WriteString(f.Message)
	case f.Err != nil:
		b.WriteString(f.Err.Error())
	default:
		b.WriteString(f.Kind)
	}
	return b.String()
}

// Unwrap возвращает исходную ошибку.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Normalize приводит произвольную ошибку к конверту Failure.
//
// Распознаются: *Failure (в цепочке), ошибки Postgres (SQLSTATE),
// отказы circuit breaker'а (метод CircuitOpen() string возвращает имя ресурса),
// context.DeadlineExceeded и сетевые ошибки.
func Normalize(err error) Failure {
	if err == nil {
		return Failure{}
	}

	var f *Failure
	if errors.As(err, &f) {
		out := *f
		if out.Message == "" && out.Err != nil {
			out.Message = out.Err.Error()
		}
		return out
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return Failure{
			Message:  pgErr.Message,
			Kind:     KindStorage,
			Code:     pgErr.Code,
			Resource: pgErr.TableName,
			Err:      err,
		}
	}

	var open interface{ CircuitOpen() string }
	if errors.As(err, &open) {
		return Failure{Message: err.Error(), Kind: KindCircuitOpen, Resource: open.CircuitOpen(), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{Message: err.Error(), Kind: KindTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		kind := KindConnection
		if netErr.Timeout() {
			kind = KindTimeout
		}
		return Failure{Message: err.Error(), Kind: kind, Err: err}
	}

	return Failure{Message: err.Error(), Err: err}
}

// Predicate распознаёт класс ошибки по конверту.
type Predicate func(f Failure) bool

// IsContention — конфликт конкурентной записи.
//
// HTTP 409, SQLSTATE 40001/40P01 (serialization failure, deadlock),
// сообщения о конкурентном обновлении.
func IsContention(f Failure) bool {
	if f.Kind == KindConflict || f.StatusCode == http.StatusConflict {
		return true
	}
	switch f.Code {
	case "40001", "40P01":
		return true
	}
	return containsAny(f.Message,
		"could not serialize access",
		"concurrent update",
		"transaction aborted due to concurrent",
	)
}

// IsOverload — перегрузка ресурса.
//
// HTTP 429, SQLSTATE 53300 (too many connections), сообщения о квотах
// и лимитах конкурентности.
func IsOverload(f Failure) bool {
	if f.Kind == KindOverload || f.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch f.Code {
	case "53300", "53400":
		return true
	}
	return containsAny(f.Message,
		"quota exceeded",
		"rate limit",
		"too many concurrent",
		"resources exceeded",
	)
}

// IsTransientInfra — временная недоступность зависимости или таймаут.
//
// HTTP 408/500/502/503/504, таймауты и ошибки соединения,
// SQLSTATE классов 08 (connection exception) и 57P0x (shutdown).
func IsTransientInfra(f Failure) bool {
	switch f.Kind {
	case KindTimeout, KindConnection, KindUnavailable:
		return true
	}
	switch f.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	if strings.HasPrefix(f.Code, "08") || strings.HasPrefix(f.Code, "57P0") {
		return true
	}
	return containsAny(f.Message,
		"connection reset",
		"connection refused",
		"temporarily unavailable",
	)
}

// Classify определяет класс ошибки, проверяя предикаты по приоритету:
// circuit_open, contention, overload, transient_infra; иначе fatal.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	f := Normalize(err)
	switch {
	case f.Kind == KindCircuitOpen:
		return ClassCircuitOpen
	case IsContention(f):
		return ClassContention
	case IsOverload(f):
		return ClassOverload
	case IsTransientInfra(f):
		return ClassTransientInfra
	default:
		return ClassFatal
	}
}

func containsAny(s string, substrs ...string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
