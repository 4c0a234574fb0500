// Package config читает настройки Harvest из переменных окружения.
//
// Неустановленная переменная даёт значение по умолчанию, некорректная —
// ошибку Load с именем переменной.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Harvest/internal/backoff"
	"github.com/shaiso/Harvest/internal/breaker"
	"github.com/shaiso/Harvest/internal/executor"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/mq"
	"github.com/shaiso/Harvest/internal/orchestrator"
	"github.com/shaiso/Harvest/internal/repo"
	"github.com/shaiso/Harvest/internal/retry"
)

// Бэкенды блокировок.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Config — настройки процесса harvest-orchestrator.
type Config struct {
	DBURL       string
	RabbitMQURL string
	RedisURL    string
	Port        string

	LockBackend       string
	LockType          string
	LockLease         time.Duration
	LockMaxWait       time.Duration
	LockPollInterval  time.Duration
	LockRenewInterval time.Duration

	Retry retry.Policies

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerCoolDown         time.Duration

	PoolSize              int
	ScraperBaseURL        string
	ScraperDefaultTimeout time.Duration
	ScraperTimeouts       map[string]time.Duration
	SchedulingOverhead    time.Duration
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	e := &env{getenv: getenv}

	cfg := &Config{
		DBURL:       e.str("DB_URL", repo.DefaultDSN),
		RabbitMQURL: e.str("RABBITMQ_URL", mq.DefaultURL()),
		RedisURL:    e.str("REDIS_URL", "redis://localhost:6379/0"),
		Port:        e.str("ORCH_PORT", "8083"),

		LockBackend:       e.str("LOCK_BACKEND", LockBackendPostgres),
		LockType:          e.str("LOCK_TYPE", lock.DefaultLockType),
		LockLease:         e.duration("LOCK_LEASE", lock.DefaultLease),
		LockMaxWait:       e.duration("LOCK_MAX_WAIT", orchestrator.DefaultLockMaxWait),
		LockPollInterval:  e.duration("LOCK_POLL_INTERVAL", lock.DefaultPollInterval),
		LockRenewInterval: e.duration("LOCK_RENEW_INTERVAL", 0),

		BreakerEnabled:          e.boolean("BREAKER_ENABLED", true),
		BreakerFailureThreshold: e.integer("BREAKER_FAILURE_THRESHOLD", breaker.DefaultFailureThreshold),
		BreakerCoolDown:         e.duration("BREAKER_COOLDOWN", breaker.DefaultCoolDown),

		PoolSize:              e.integer("POOL_SIZE", executor.DefaultPoolSize),
		ScraperBaseURL:        e.str("SCRAPER_BASE_URL", "http://localhost:8090"),
		ScraperDefaultTimeout: e.duration("SCRAPER_DEFAULT_TIMEOUT", executor.DefaultTimeout),
		SchedulingOverhead:    e.duration("SCHEDULING_OVERHEAD", executor.DefaultSchedulingOverhead),
	}

	defaults := retry.DefaultPolicies()
	cfg.Retry = retry.Policies{
		Contention:     e.backoff("CONTENTION", defaults.Contention),
		Overload:       e.backoff("OVERLOAD", defaults.Overload),
		TransientInfra: e.backoff("TRANSIENT_INFRA", defaults.TransientInfra),
	}

	if v := getenv("SCRAPER_TIMEOUTS"); v != "" {
		timeouts, err := ParseTimeouts(v)
		if err != nil {
			e.fail("SCRAPER_TIMEOUTS", err)
		}
		cfg.ScraperTimeouts = timeouts
	}

	switch cfg.LockBackend {
	case LockBackendPostgres, LockBackendRedis, LockBackendMemory:
	default:
		e.fail("LOCK_BACKEND", fmt.Errorf("unknown backend %q (postgres, redis, memory)", cfg.LockBackend))
	}
	if cfg.LockRenewInterval > 0 && cfg.LockRenewInterval >= cfg.LockLease {
		e.fail("LOCK_RENEW_INTERVAL", fmt.Errorf("must be shorter than LOCK_LEASE (%s)", cfg.LockLease))
	}
	if cfg.PoolSize <= 0 {
		e.fail("POOL_SIZE", errors.New("must be positive"))
	}
	if cfg.BreakerFailureThreshold <= 0 {
		e.fail("BREAKER_FAILURE_THRESHOLD", errors.New("must be positive"))
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// ParseTimeouts разбирает "name=90s,other=2m" в карту таймаутов.
func ParseTimeouts(s string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("entry %q: expected name=duration", pair)
		}

		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("entry %q: timeout must be positive", pair)
		}
		out[name] = d
	}
	return out, nil
}

// env читает переменные и копит ошибки разбора.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) integer(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

// backoff читает RETRY_<CLASS>_* поверх значений по умолчанию.
func (e *env) backoff(class string, def backoff.Params) backoff.Params {
	prefix := "RETRY_" + class + "_"
	p := backoff.Params{
		InitialDelay:   e.duration(prefix+"INITIAL", def.InitialDelay),
		MaxDelay:       e.duration(prefix+"MAX", def.MaxDelay),
		Multiplier:     e.float(prefix+"MULTIPLIER", def.Multiplier),
		JitterFraction: e.float(prefix+"JITTER", def.JitterFraction),
		Deadline:       e.duration(prefix+"DEADLINE", def.Deadline),
		MaxAttempts:    e.integer(prefix+"MAX_ATTEMPTS", def.MaxAttempts),
	}

	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		e.fail(prefix+"JITTER", errors.New("must be within [0, 1]"))
	}
	if p.MaxDelay < p.InitialDelay {
		e.fail(prefix+"MAX", errors.New("must not be less than initial delay"))
	}
	return p
}
