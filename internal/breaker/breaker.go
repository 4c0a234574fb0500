package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Harvest/internal/retry"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// State — состояние breaker'а.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Значения по умолчанию.
const (
	DefaultFailureThreshold = 5
	DefaultCoolDown         = 60 * time.Second
)

// Config — настройки breaker'а.
type Config struct {
	// FailureThreshold — число подряд идущих отказов до перехода в OPEN (default: 5).
	FailureThreshold int

	// CoolDown — пауза после открытия до пробного вызова (default: 60s).
	CoolDown time.Duration

	// Logger
	Logger *slog.Logger

	// Now подменяется в тестах.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.CoolDown <= 0 {
		c.CoolDown = DefaultCoolDown
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Logger = telemetry.OrDefault(c.Logger)
	return c
}

// Snapshot — копия состояния breaker'а только для чтения.
type Snapshot struct {
	Resource            string
	State               State
	ConsecutiveFailures int
	LastFailureAt       time.Time
	OpenedAt            time.Time
	ProbeInFlight       bool
}

// Breaker — circuit breaker одного ресурса.
//
// CLOSED пропускает вызовы и считает отказы подряд. На пороге переходит в OPEN,
// где все вызовы отклоняются до истечения CoolDown. Первый вызов после CoolDown
// становится пробным (HALF_OPEN): одновременно идёт не больше одного пробного вызова.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	probeInFlight bool
}

var _ retry.Strategy = (*Breaker)(nil)

// New создаёт breaker в состоянии CLOSED.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger.With("resource", name),
	}
	telemetry.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name возвращает имя ресурса.
func (b *Breaker) Name() string {
	return b.name
}

// State возвращает текущее состояние.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot возвращает копию состояния.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Resource:            b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
		ProbeInFlight:       b.probeInFlight,
	}
}

// Allow решает, можно ли вызвать ресурс.
//
// probe == true означает, что вызов пробный: его результат нужно передать
// в RecordSuccess/RecordFailure с тем же флагом. При отказе возвращается *OpenError.
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		remaining := b.cfg.CoolDown - b.cfg.Now().Sub(b.openedAt)
		if remaining > 0 {
			return false, b.reject(remaining)
		}
		b.setState(StateHalfOpen)
		b.probeInFlight = true
		return true, nil

	default: // StateHalfOpen
		if b.probeInFlight {
			return false, b.reject(0)
		}
		b.probeInFlight = true
		return true, nil
	}
}

// RecordSuccess фиксирует успешный вызов.
func (b *Breaker) RecordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if !probe {
			return
		}
		b.probeInFlight = false
		b.failures = 0
		b.setState(StateClosed)
		b.logger.Info("circuit closed after successful probe")
	}
}

// RecordFailure фиксирует отказ ресурса.
func (b *Breaker) RecordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		b.lastFailureAt = now
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.setState(StateOpen)
			b.logger.Warn("circuit opened",
				"consecutive_failures", b.failures,
				"cool_down", b.cfg.CoolDown,
			)
		}
	case StateHalfOpen:
		if !probe {
			return
		}
		b.probeInFlight = false
		b.failures++
		b.lastFailureAt = now
		b.openedAt = now
		b.setState(StateOpen)
		b.logger.Warn("probe failed, circuit reopened", "cool_down", b.cfg.CoolDown)
	}
}

// Cancel снимает флаг пробного вызова без перехода состояния.
// Используется, когда вызов прерван раньше, чем ресурс ответил.
func (b *Breaker) Cancel(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// Reset переводит breaker в CLOSED и обнуляет счётчики.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
	b.setState(StateClosed)
	b.logger.Info("circuit reset")
}

// Execute выполняет op под защитой breaker'а.
//
// Отказом ресурса считаются только ошибки retry-классов. Fatal-ошибка
// (например, HTTP 404) означает, что ресурс ответил, и засчитывается как успех.
func (b *Breaker) Execute(ctx context.Context, op retry.Operation) error {
	probe, err := b.Allow()
	if err != nil {
		return err
	}

	err = op(ctx)
	b.Record(probe, err)
	return err
}

// Record передаёт результат вызова в RecordSuccess, RecordFailure или Cancel.
func (b *Breaker) Record(probe bool, err error) {
	switch {
	case err == nil:
		b.RecordSuccess(probe)
	case errors.Is(err, context.Canceled):
		b.Cancel(probe)
	case CountsAsFailure(err):
		b.RecordFailure(probe)
	default:
		b.RecordSuccess(probe)
	}
}

// CountsAsFailure сообщает, говорит ли ошибка о неисправности ресурса.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return retry.Classify(err).IsRetryable()
}

// reject вызывается под mu.
func (b *Breaker) reject(retryAfter time.Duration) error {
	telemetry.BreakerRejections.WithLabelValues(b.name).Inc()
	return &OpenError{Resource: b.name, RetryAfter: retryAfter}
}

// setState вызывается под mu.
func (b *Breaker) setState(s State) {
	b.state = s
	telemetry.BreakerState.WithLabelValues(b.name).Set(float64(s))
}
