package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Harvest/internal/retry"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envOf(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LockBackend != LockBackendPostgres {
		t.Errorf("expected postgres lock backend, got %s", cfg.LockBackend)
	}
	if !cfg.BreakerEnabled || cfg.BreakerFailureThreshold != 5 || cfg.BreakerCoolDown != time.Minute {
		t.Errorf("unexpected breaker defaults: %+v", cfg)
	}
	if cfg.PoolSize != 4 || cfg.ScraperDefaultTimeout != 5*time.Minute || cfg.SchedulingOverhead != 30*time.Second {
		t.Errorf("unexpected executor defaults: %+v", cfg)
	}
	if cfg.Retry != retry.DefaultPolicies() {
		t.Errorf("retry policies should default to retry.DefaultPolicies")
	}
	if cfg.Port != "8083" {
		t.Errorf("unexpected port %s", cfg.Port)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(envOf(map[string]string{
		"LOCK_BACKEND":                   "redis",
		"LOCK_LEASE":                     "2m",
		"LOCK_MAX_WAIT":                  "45s",
		"LOCK_RENEW_INTERVAL":            "20s",
		"BREAKER_ENABLED":                "false",
		"BREAKER_FAILURE_THRESHOLD":      "3",
		"BREAKER_COOLDOWN":               "15s",
		"POOL_SIZE":                      "8",
		"SCRAPER_TIMEOUTS":               "prices=90s, stock=2m",
		"RETRY_OVERLOAD_INITIAL":         "5s",
		"RETRY_OVERLOAD_MAX_ATTEMPTS":    "6",
		"RETRY_CONTENTION_JITTER":        "0.5",
		"RETRY_TRANSIENT_INFRA_DEADLINE": "1m",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LockBackend != LockBackendRedis || cfg.LockLease != 2*time.Minute || cfg.LockMaxWait != 45*time.Second || cfg.LockRenewInterval != 20*time.Second {
		t.Errorf("lock settings not applied: %+v", cfg)
	}
	if cfg.BreakerEnabled || cfg.BreakerFailureThreshold != 3 || cfg.BreakerCoolDown != 15*time.Second {
		t.Errorf("breaker settings not applied: %+v", cfg)
	}
	if cfg.PoolSize != 8 {
		t.Errorf("expected pool size 8, got %d", cfg.PoolSize)
	}
	if cfg.ScraperTimeouts["prices"] != 90*time.Second || cfg.ScraperTimeouts["stock"] != 2*time.Minute {
		t.Errorf("unexpected scraper timeouts %v", cfg.ScraperTimeouts)
	}

	if cfg.Retry.Overload.InitialDelay != 5*time.Second || cfg.Retry.Overload.MaxAttempts != 6 {
		t.Errorf("overload policy not applied: %+v", cfg.Retry.Overload)
	}
	if cfg.Retry.Overload.MaxDelay != retry.DefaultPolicies().Overload.MaxDelay {
		t.Error("unset fields must keep their defaults")
	}
	if cfg.Retry.Contention.JitterFraction != 0.5 {
		t.Errorf("contention jitter not applied: %v", cfg.Retry.Contention.JitterFraction)
	}
	if cfg.Retry.TransientInfra.Deadline != time.Minute {
		t.Errorf("transient deadline not applied: %v", cfg.Retry.TransientInfra.Deadline)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LOCK_BACKEND", "etcd"},
		{"LOCK_LEASE", "five minutes"},
		{"LOCK_RENEW_INTERVAL", "10m"},
		{"POOL_SIZE", "0"},
		{"POOL_SIZE", "many"},
		{"BREAKER_ENABLED", "maybe"},
		{"BREAKER_FAILURE_THRESHOLD", "-1"},
		{"RETRY_OVERLOAD_JITTER", "1.5"},
		{"RETRY_CONTENTION_MAX", "100ms"},
		{"SCRAPER_TIMEOUTS", "prices"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			_, err := load(envOf(map[string]string{tt.key: tt.value}))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error should name %s: %v", tt.key, err)
			}
		})
	}
}

func TestParseTimeouts(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]time.Duration
		wantErr bool
	}{
		{"prices=90s", map[string]time.Duration{"prices": 90 * time.Second}, false},
		{"a=1m,b=30s,", map[string]time.Duration{"a": time.Minute, "b": 30 * time.Second}, false},
		{"", map[string]time.Duration{}, false},
		{"a=", nil, true},
		{"=1m", nil, true},
		{"a=-1s", nil, true},
		{"a=1m,b", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeouts(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}
