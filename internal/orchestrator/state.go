package orchestrator

import (
	"slices"
	"sync"
	"time"
)

// ActiveDecision — решение, которое этот процесс выполняет прямо сейчас.
type ActiveDecision struct {
	Key          string    `json:"key"`
	WorkflowName string    `json:"workflow_name"`
	DecisionID   string    `json:"decision_id"`
	Scrapers     int       `json:"scrapers"`
	StartedAt    time.Time `json:"started_at"`
}

// activeSet — потокобезопасный набор выполняемых решений.
type activeSet struct {
	mu    sync.RWMutex
	items map[string]ActiveDecision
}

func newActiveSet() *activeSet {
	return &activeSet{items: make(map[string]ActiveDecision)}
}

func (s *activeSet) add(a ActiveDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.Key] = a
}

func (s *activeSet) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *activeSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// list возвращает копию, отсортированную по времени старта.
func (s *activeSet) list() []ActiveDecision {
	s.mu.RLock()
	out := make([]ActiveDecision, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b ActiveDecision) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}
