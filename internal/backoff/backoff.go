// Package backoff вычисляет задержки между повторными попытками.
//
// Алгоритм — decorrelated jitter: каждая следующая задержка выбирается
// случайно в диапазоне, зависящем от предыдущей задержки. Это разносит
// retry множества параллельных вызывающих во времени и не даёт им
// синхронно бить в один и тот же ресурс.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Значения по умолчанию.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 3.0
)

// Params — неизменяемые параметры backoff для одного класса retry.
type Params struct {
	// InitialDelay — минимальная задержка и затравка для первой попытки.
	InitialDelay time.Duration

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration

	// Multiplier — во сколько раз верхняя граница диапазона превышает
	// предыдущую задержку (default: 3).
	Multiplier float64

	// JitterFraction — доля дополнительного симметричного джиттера (0.1 → ±10%).
	JitterFraction float64

	// MaxAttempts — максимум попыток (0 — без ограничения, действует только Deadline).
	MaxAttempts int

	// Deadline — максимальное общее время на попытки и паузы.
	Deadline time.Duration
}

// WithDefaults возвращает копию параметров с заполненными нулевыми полями.
func (p Params) WithDefaults() Params {
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.JitterFraction > 1 {
		p.JitterFraction = 1
	}
	return p
}

// Delay возвращает задержку перед попыткой attempt (начиная с 1).
//
//	candidate = uniform(initial, min(max, prev * multiplier))
//	delay     = candidate ± jitter_fraction * candidate
//	delay     = clamp(delay, 0, max)
//
// Для первой попытки (или prev <= 0) prev берётся равным InitialDelay.
// Функция не детерминирована: одинаковые аргументы дают разные задержки.
func Delay(attempt int, prev time.Duration, p Params) time.Duration {
	p = p.WithDefaults()

	if attempt <= 1 || prev <= 0 {
		prev = p.InitialDelay
	}

	upper := time.Duration(float64(prev) * p.Multiplier)
	if upper > p.MaxDelay || upper <= 0 {
		upper = p.MaxDelay
	}

	candidate := float64(p.InitialDelay)
	if upper > p.InitialDelay {
		candidate += rand.Float64() * float64(upper-p.InitialDelay)
	}

	if p.JitterFraction > 0 {
		candidate += (rand.Float64()*2 - 1) * p.JitterFraction * candidate
	}

	delay := time.Duration(candidate)
	if delay < 0 {
		delay = 0
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Sequence хранит предыдущую задержку одного цикла retry.
// Не потокобезопасен: у каждого цикла retry своя Sequence.
type Sequence struct {
	params  Params
	attempt int
	prev    time.Duration
}

// NewSequence создаёт Sequence для параметров p.
func NewSequence(p Params) *Sequence {
	return &Sequence{params: p.WithDefaults()}
}

// Next возвращает задержку перед следующей попыткой.
func (s *Sequence) Next() time.Duration {
	s.attempt++
	s.prev = Delay(s.attempt, s.prev, s.params)
	return s.prev
}

// Attempt возвращает количество выданных задержек.
func (s *Sequence) Attempt() int {
	return s.attempt
}
