// Package breaker реализует circuit breaker для внешних ресурсов.
//
// Manager хранит по одному Breaker на ресурс и создаёт их лениво.
// Состояние живёт только в памяти процесса: после рестарта все breaker'ы закрыты.
package breaker

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/Harvest/internal/retry"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// ManagerConfig — настройки Manager.
type ManagerConfig struct {
	// Disabled выключает механизм целиком: все вызовы проходят без проверки.
	Disabled bool

	// Breaker — настройки, с которыми создаются breaker'ы.
	Breaker Config

	// Logger
	Logger *slog.Logger
}

// Manager — реестр breaker'ов по имени ресурса.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	enabled  bool
	breakers map[string]*Breaker
}

// NewManager создаёт Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := telemetry.OrDefault(cfg.Logger)
	bcfg := cfg.Breaker
	if bcfg.Logger == nil {
		bcfg.Logger = logger
	}

	return &Manager{
		cfg:      bcfg,
		logger:   logger,
		enabled:  !cfg.Disabled,
		breakers: make(map[string]*Breaker),
	}
}

// Get возвращает breaker ресурса, создавая его при первом обращении.
func (m *Manager) Get(resource string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[resource]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[resource]; ok {
		return b
	}
	b = New(resource, m.cfg)
	m.breakers[resource] = b
	return b
}

// Lookup возвращает breaker ресурса, не создавая его.
func (m *Manager) Lookup(resource string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[resource]
	return b, ok
}

// IsEnabled сообщает, включён ли механизм.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetEnabled включает или выключает механизм.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	m.logger.Info("circuit breakers toggled", "enabled", enabled)
}

// Execute выполняет op через breaker ресурса.
// Если механизм выключен, op вызывается напрямую.
func (m *Manager) Execute(ctx context.Context, resource string, op retry.Operation) error {
	if !m.IsEnabled() {
		return op(ctx)
	}
	return m.Get(resource).Execute(ctx, op)
}

// Snapshots возвращает состояние всех breaker'ов, отсортированное по имени.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resource < out[j].Resource
	})
	return out
}

// Reset закрывает breaker ресурса.
func (m *Manager) Reset(resource string) error {
	b, ok := m.Lookup(resource)
	if !ok {
		return ErrBreakerNotFound
	}
	b.Reset()
	return nil
}
