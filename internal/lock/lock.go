// Package lock реализует распределённую блокировку с арендой (lease).
//
// Ключ блокировки — "{lock_type}_{business_key}". Захват выполняется одной
// атомарной операцией Store.PutIfAvailable, поэтому из конкурентных вызывающих
// успевает ровно один. У каждой аренды конечный expires_at: упавший владелец
// перестаёт мешать остальным, как только аренда истекает.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/retry"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultLockType     = "workflow"
	DefaultLease        = 5 * time.Minute
	DefaultPollInterval = time.Second

	releaseTimeout = 10 * time.Second
)

// Config — настройки Locker.
type Config struct {
	// Store — хранилище записей (обязательно).
	Store Store

	// LockType — префикс ключа (default: "workflow").
	LockType string

	// HolderID — идентификатор процесса (default: hostname-pid-uuid).
	HolderID string

	// Lease — длительность аренды (default: 5m).
	Lease time.Duration

	// PollInterval — пауза между попытками захвата (default: 1s).
	PollInterval time.Duration

	// RenewInterval — период продления аренды в WithLock (default: Lease/3).
	// Должен быть меньше Lease.
	RenewInterval time.Duration

	// Logger
	Logger *slog.Logger

	// Now и Sleep подменяются в тестах.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Locker захватывает блокировки одного типа.
type Locker struct {
	store    Store
	lockType string
	holderID string
	lease    time.Duration
	poll     time.Duration
	renew    time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New создаёт Locker.
func New(cfg Config) *Locker {
	if cfg.LockType == "" {
		cfg.LockType = DefaultLockType
	}
	if cfg.HolderID == "" {
		cfg.HolderID = defaultHolderID()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.Lease {
		cfg.RenewInterval = cfg.Lease / 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Locker{
		store:    cfg.Store,
		lockType: cfg.LockType,
		holderID: cfg.HolderID,
		lease:    cfg.Lease,
		poll:     cfg.PollInterval,
		renew:    cfg.RenewInterval,
		logger:   telemetry.OrDefault(cfg.Logger).With("lock_type", cfg.LockType),
		now:      cfg.Now,
		sleep:    cfg.Sleep,
	}
}

// WithType возвращает Locker того же процесса и хранилища с другим типом блокировки.
func (l *Locker) WithType(lockType string) *Locker {
	cp := *l
	cp.lockType = lockType
	cp.logger = l.logger.With("lock_type", lockType)
	return &cp
}

// HolderID возвращает идентификатор процесса-владельца.
func (l *Locker) HolderID() string {
	return l.holderID
}

// Key возвращает ключ блокировки для businessKey.
func (l *Locker) Key(businessKey string) string {
	return l.lockType + "_" + businessKey
}

// TryAcquire делает одну попытку захвата.
// Возвращает nil-handle без ошибки, если блокировку держит другая операция.
func (l *Locker) TryAcquire(ctx context.Context, businessKey, operationID string) (*Handle, error) {
	now := l.now()
	rec := &domain.LockRecord{
		LockKey:     l.Key(businessKey),
		HolderID:    l.holderID,
		OperationID: operationID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(l.lease),
	}

	ok, err := l.store.PutIfAvailable(ctx, rec, now)
	if err != nil {
		return nil, fmt.Errorf("try acquire %s: %w", rec.LockKey, err)
	}
	if !ok {
		return nil, nil
	}

	return &Handle{locker: l, record: *rec}, nil
}

// Acquire захватывает блокировку, повторяя попытки каждые PollInterval.
//
// Если за maxWait захватить не удалось, возвращает *AcquisitionError
// (errors.Is(err, ErrLockAcquisitionTimeout)). Без блокировки вызывающий не продолжает.
func (l *Locker) Acquire(ctx context.Context, businessKey, operationID string, maxWait time.Duration) (*Handle, error) {
	key := l.Key(businessKey)
	start := l.now()
	deadline := start.Add(maxWait)
	logger := l.logger.With("lock_key", key, "operation_id", operationID)

	for {
		h, err := l.TryAcquire(ctx, businessKey, operationID)
		switch {
		case err == nil && h != nil:
			telemetry.LockAcquisitions.WithLabelValues(l.lockType, "acquired").Inc()
			logger.Debug("lock acquired", "expires_at", h.record.ExpiresAt, "waited", l.now().Sub(start))
			return h, nil

		case err != nil && !retry.Classify(err).IsRetryable():
			telemetry.LockAcquisitions.WithLabelValues(l.lockType, "error").Inc()
			return nil, err

		case err != nil:
			logger.Warn("lock store temporarily failing", "error", err)
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			telemetry.LockAcquisitions.WithLabelValues(l.lockType, "timeout").Inc()
			acqErr := &AcquisitionError{LockKey: key, Waited: l.now().Sub(start)}
			if cur, err := l.store.Get(ctx, key); err == nil {
				acqErr.Holder = cur.OperationID
			}
			logger.Warn("lock acquisition timed out", "waited", acqErr.Waited, "holder", acqErr.Holder)
			return nil, acqErr
		}

		if err := l.sleep(ctx, min(l.poll, remaining)); err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
	}
}

// WithLock выполняет fn под блокировкой и освобождает её на любом пути выхода,
// включая panic в fn.
//
// Пока fn работает, аренда продлевается каждые RenewInterval. Если блокировку
// перехватила другая операция, контекст fn отменяется с причиной ErrLeaseLost
// (context.Cause), и WithLock возвращает ErrLeaseLost, даже если fn вернула nil.
func (l *Locker) WithLock(ctx context.Context, businessKey, operationID string, maxWait time.Duration, fn func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, businessKey, operationID, maxWait)
	if err != nil {
		return err
	}
	defer h.Release(ctx)

	fnCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	stop := h.keepAlive(fnCtx, abort)
	defer stop()

	err = fn(fnCtx)
	stop()

	if cause := context.Cause(fnCtx); errors.Is(cause, ErrLeaseLost) && !errors.Is(err, ErrLeaseLost) {
		return errors.Join(cause, err)
	}
	return err
}

// ForceRelease удаляет блокировку без проверки владельца.
//
// В отличие от Handle.Release возвращает неожиданные ошибки хранилища.
// released == false, если блокировки не было.
func (l *Locker) ForceRelease(ctx context.Context, businessKey string) (released bool, err error) {
	key := l.Key(businessKey)

	err = l.store.Delete(ctx, key, "")
	if errors.Is(err, ErrLockNotFound) {
		l.logger.Info("force release: lock already gone", "lock_key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("force release %s: %w", key, err)
	}

	l.logger.Warn("lock force-released", "lock_key", key)
	return true, nil
}

// Handle — захваченная блокировка.
type Handle struct {
	locker   *Locker
	record   domain.LockRecord
	released atomic.Bool
}

// Key возвращает ключ блокировки.
func (h *Handle) Key() string {
	return h.record.LockKey
}

// Record возвращает копию записи блокировки.
func (h *Handle) Record() domain.LockRecord {
	return h.record
}

// Extend продлевает аренду ещё на Lease от текущего момента.
func (h *Handle) Extend(ctx context.Context) error {
	if h.released.Load() {
		return ErrLockNotFound
	}

	l := h.locker
	now := l.now()
	rec := h.record
	rec.ExpiresAt = now.Add(l.lease)

	ok, err := l.store.PutIfAvailable(ctx, &rec, now)
	if err != nil {
		return fmt.Errorf("extend %s: %w", rec.LockKey, err)
	}
	if !ok {
		return ErrNotOwner
	}
	h.record = rec
	return nil
}

// keepAlive продлевает аренду, пока не вызвана stop. stop дожидается
// завершения горутины, поэтому после неё Extend уже не выполняется.
func (h *Handle) keepAlive(ctx context.Context, lost context.CancelCauseFunc) (stop func()) {
	l := h.locker
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.renew)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}

			err := h.Extend(hbCtx)
			switch {
			case err == nil:
			case hbCtx.Err() != nil:
				return
			case errors.Is(err, ErrNotOwner):
				l.logger.Error("lease lost, aborting operation",
					"lock_key", h.record.LockKey,
					"operation_id", h.record.OperationID,
				)
				lost(fmt.Errorf("%w: %s", ErrLeaseLost, h.record.LockKey))
				return
			default:
				l.logger.Warn("extend lease failed", "lock_key", h.record.LockKey, "error", err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Release освобождает блокировку. Повторный вызов ничего не делает.
//
// Ошибки не возвращаются: блокировка, которую уже забрали или удалили, считается
// освобождённой, а сбой хранилища только логируется (аренда истечёт сама).
func (h *Handle) Release(ctx context.Context) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	l := h.locker
	key := h.record.LockKey
	logger := l.logger.With("lock_key", key, "operation_id", h.record.OperationID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := l.store.Delete(ctx, key, h.record.OperationID)
	switch {
	case err == nil:
		logger.Debug("lock released")
	case errors.Is(err, ErrLockNotFound), errors.Is(err, ErrNotOwner):
		logger.Info("lock already released or taken over", "reason", err)
	default:
		logger.Error("release lock failed, lease will expire", "error", err, "expires_at", h.record.ExpiresAt)
	}
}

func defaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

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
