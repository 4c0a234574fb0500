// Package retry повторяет операции по классифицированной политике.
//
// Ошибка операции нормализуется в конверт Failure и проверяется предикатами
// классов по приоритету (contention → overload → transient_infra). Совпавший
// класс задаёт параметры backoff и deadline; всё, что не совпало, — fatal и
// возвращается сразу. Отказы circuit breaker'а никогда не повторяются.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/Harvest/internal/backoff"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Operation — повторяемая операция.
type Operation func(ctx context.Context) error

// Strategy — стратегия выполнения операции (retry, breaker, их композиция).
type Strategy interface {
	Execute(ctx context.Context, op Operation) error
}

// EventType — тип события retry.
type EventType string

const (
	EventClassified EventType = "classified"
	EventRetry      EventType = "retry"
	EventRecovered  EventType = "recovered"
	EventExhausted  EventType = "exhausted"
	EventFatal      EventType = "fatal"
)

// Event — структурированное событие retry для наблюдаемости.
type Event struct {
	Type     EventType
	Class    Class
	Resource string
	Attempt  int
	Elapsed  time.Duration
	Delay    time.Duration
	Err      error
}

// Config — конфигурация Retrier.
type Config struct {
	// Rules — правила классификации по приоритету (default: DefaultPolicies().Rules()).
	Rules []Rule

	// Resource — имя ресурса для событий, если его нельзя извлечь из ошибки.
	Resource string

	// Logger
	Logger *slog.Logger

	// Observer — дополнительный получатель событий (опционально).
	Observer func(Event)

	// Clock и Sleep подменяются в тестах.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retrier выполняет операции с классифицированным retry.
// Безопасен для конкурентного использования: состояние цикла живёт в Execute.
type Retrier struct {
	rules    []Rule
	resource string
	logger   *slog.Logger
	observer func(Event)
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ Strategy = (*Retrier)(nil)

// New создаёт Retrier.
func New(cfg Config) *Retrier {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultPolicies().Rules()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Retrier{
		rules:    rules,
		resource: cfg.Resource,
		logger:   telemetry.OrDefault(cfg.Logger),
		observer: cfg.Observer,
		clock:    clock,
		sleep:    sleep,
	}
}

// ForResource возвращает копию Retrier с другим именем ресурса для событий.
func (r *Retrier) ForResource(resource string) *Retrier {
	cp := *r
	cp.resource = resource
	return &cp
}

// Execute выполняет op, повторяя её по правилу совпавшего класса.
//
// Останавливается, когда следующая пауза вышла бы за deadline класса
// или за deadline контекста (что наступит раньше), либо исчерпан MaxAttempts.
// Возвращает *ExhaustedError (errors.Is(err, ErrRetryExhausted)) или исходную fatal-ошибку.
func (r *Retrier) Execute(ctx context.Context, op Operation) error {
	start := r.clock()
	sequences := make(map[Class]*backoff.Sequence, len(r.rules))
	var lastClass Class

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		elapsed := r.clock().Sub(start)

		if err == nil {
			if attempt > 1 {
				r.emit(Event{Type: EventRecovered, Class: lastClass, Resource: r.resource, Attempt: attempt, Elapsed: elapsed})
			}
			return nil
		}

		f := Normalize(err)
		resource := f.Resource
		if resource == "" {
			resource = r.resource
		}

		rule, ok := r.match(f)
		if !ok {
			class := ClassFatal
			if f.Kind == KindCircuitOpen {
				class = ClassCircuitOpen
			}
			r.emit(Event{Type: EventFatal, Class: class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Err: err})
			return err
		}

		lastClass = rule.Class
		r.emit(Event{Type: EventClassified, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Err: err})

		exhausted := &ExhaustedError{Class: rule.Class, Attempts: attempt, Elapsed: elapsed, Last: err}

		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				exhausted.Last = errors.Join(err, ctxErr)
			}
			r.emit(Event{Type: EventExhausted, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Err: err})
			return exhausted
		}

		params := rule.Params
		if params.MaxAttempts > 0 && attempt >= params.MaxAttempts {
			r.emit(Event{Type: EventExhausted, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Err: err})
			return exhausted
		}

		seq, ok := sequences[rule.Class]
		if !ok {
			seq = backoff.NewSequence(params)
			sequences[rule.Class] = seq
		}
		delay := seq.Next()

		if !r.fits(ctx, params.Deadline, elapsed, delay) {
			r.emit(Event{Type: EventExhausted, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Delay: delay, Err: err})
			return exhausted
		}

		r.emit(Event{Type: EventRetry, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: elapsed, Delay: delay, Err: err})

		// отмена во время паузы видна вызывающему через errors.Is(err, context.Canceled)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			exhausted.Elapsed = r.clock().Sub(start)
			exhausted.Last = errors.Join(err, sleepErr)
			r.emit(Event{Type: EventExhausted, Class: rule.Class, Resource: resource, Attempt: attempt, Elapsed: exhausted.Elapsed, Err: sleepErr})
			return exhausted
		}
	}
}

// Do — типизированный вариант Execute для операций, возвращающих значение.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// match ищет первое правило, предикат которого распознаёт ошибку.
func (r *Retrier) match(f Failure) (Rule, bool) {
	if f.Kind == KindCircuitOpen {
		return Rule{}, false
	}
	for _, rule := range r.rules {
		if rule.Predicate != nil && rule.Predicate(f) {
			return rule, true
		}
	}
	return Rule{}, false
}

// fits проверяет, что пауза delay укладывается в deadline класса и контекста.
func (r *Retrier) fits(ctx context.Context, deadline, elapsed, delay time.Duration) bool {
	if deadline > 0 && elapsed+delay > deadline {
		return false
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && r.clock().Add(delay).After(ctxDeadline) {
		return false
	}
	return true
}

// emit пишет событие в лог, метрики и observer.
func (r *Retrier) emit(ev Event) {
	telemetry.RetryEvents.WithLabelValues(string(ev.Class), string(ev.Type)).Inc()

	attrs := []any{
		"event", ev.Type,
		"class", ev.Class,
		"resource", ev.Resource,
		"attempt", ev.Attempt,
		"elapsed", ev.Elapsed,
	}
	if ev.Delay > 0 {
		attrs = append(attrs, "delay", ev.Delay)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}

	switch {
	case ev.Class == ClassOverload && ev.Type == EventClassified:
		// overload — сигнал о нехватке ёмкости, а не аномалия конкретного вызова
		r.logger.Warn("resource overloaded", append(attrs, "capacity_signal", true)...)
	case ev.Type == EventExhausted:
		r.logger.Warn("retry exhausted", attrs...)
	case ev.Type == EventRecovered:
		r.logger.Info("succeeded after retry", attrs...)
	case ev.Type == EventClassified:
		r.logger.Info("retryable failure", attrs...)
	default:
		r.logger.Debug("retry event", attrs...)
	}

	if r.observer != nil {
		r.observer(ev)
	}
}

// sleepContext ждёт d или отмены контекста.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
