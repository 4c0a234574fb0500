package lock

import (
	"context"
	"time"
)

// Sweeper — хранилище, которое умеет удалять истёкшие записи.
//
// Redis удаляет их сам по PX, поэтому RedisStore Sweeper не реализует.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepLoop периодически удаляет истёкшие блокировки, пока ctx не отменён.
// Если хранилище не реализует Sweeper, сразу возвращается.
func (l *Locker) SweepLoop(ctx context.Context, interval time.Duration) {
	s, ok := l.store.(Sweeper)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(ctx, s)
		}
	}
}

// sweep выполняет один проход очистки.
func (l *Locker) sweep(ctx context.Context, s Sweeper) {
	n, err := s.DeleteExpired(ctx, l.now())
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("sweep expired locks failed", "error", err)
		}
		return
	}
	if n > 0 {
		l.logger.Info("expired locks swept", "count", n)
	}
}
