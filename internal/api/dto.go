package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/breaker"
	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/orchestrator"
)

// Decision DTOs

// SubmitDecisionRequest — решение запустить workflow.
// Имя workflow берётся из пути.
type SubmitDecisionRequest struct {
	DecisionID   string                    `json:"decision_id,omitempty"`
	Scrapers     []string                  `json:"scrapers"`
	Inputs       map[string]any            `json:"inputs,omitempty"`
	Parameters   map[string]map[string]any `json:"parameters,omitempty"`
	BusinessDate string                    `json:"business_date,omitempty"`
}

// ToDomain конвертирует запрос в domain.Decision.
//
// Без decision_id ключом решения становится бизнес-дата, а без неё — новый UUID
// (такое решение не дедуплицируется с предыдущими).
func (r SubmitDecisionRequest) ToDomain(workflow string) *domain.Decision {
	id := r.DecisionID
	if id == "" {
		id = r.BusinessDate
	}
	if id == "" {
		id = uuid.NewString()
	}

	return &domain.Decision{
		DecisionID:   id,
		WorkflowName: workflow,
		Scrapers:     r.Scrapers,
		Inputs:       r.Inputs,
		Parameters:   r.Parameters,
		BusinessDate: r.BusinessDate,
		CreatedAt:    time.Now().UTC(),
	}
}

// DecisionAcceptedResponse — решение принято к выполнению.
type DecisionAcceptedResponse struct {
	WorkflowName string   `json:"workflow_name"`
	DecisionID   string   `json:"decision_id"`
	Key          string   `json:"key"`
	Scrapers     []string `json:"scrapers"`
}

// Execution DTOs

// ScraperExecutionResponse — результат вызова scraper'а.
type ScraperExecutionResponse struct {
	ScraperName  string         `json:"scraper_name"`
	Status       string         `json:"status"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	Attempts     int            `json:"attempts"`
	DurationMs   int64          `json:"duration_ms"`
	RecordCount  int64          `json:"record_count"`
	ErrorClass   string         `json:"error_class,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DataSummary  map[string]any `json:"data_summary,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
}

// ExecutionResponse — выполнение workflow.
// ScraperExecutions заполняется только в ответе на запрос одного выполнения.
type ExecutionResponse struct {
	ExecutionID       uuid.UUID                  `json:"execution_id"`
	WorkflowName      string                     `json:"workflow_name"`
	DecisionID        string                     `json:"decision_id"`
	ExecutionTime     time.Time                  `json:"execution_time"`
	Status            string                     `json:"status"`
	ScrapersRequested []string                   `json:"scrapers_requested"`
	SkippedScrapers   []string                   `json:"skipped_scrapers,omitempty"`
	ScrapersTriggered int                        `json:"scrapers_triggered"`
	ScrapersSucceeded int                        `json:"scrapers_succeeded"`
	ScrapersFailed    int                        `json:"scrapers_failed"`
	DurationMs        int64                      `json:"duration_ms"`
	Error             string                     `json:"error,omitempty"`
	ScraperExecutions []ScraperExecutionResponse `json:"scraper_executions,omitempty"`
}

// ExecutionFromDomain конвертирует domain.WorkflowExecution в ExecutionResponse.
func ExecutionFromDomain(w *domain.WorkflowExecution, withScrapers bool) ExecutionResponse {
	resp := ExecutionResponse{
		ExecutionID:       w.ExecutionID,
		WorkflowName:      w.WorkflowName,
		DecisionID:        w.DecisionID,
		ExecutionTime:     w.ExecutionTime,
		Status:            string(w.Status),
		ScrapersRequested: w.ScrapersRequested,
		SkippedScrapers:   w.SkippedScrapers,
		ScrapersTriggered: w.ScrapersTriggered,
		ScrapersSucceeded: w.ScrapersSucceeded,
		ScrapersFailed:    w.ScrapersFailed,
		DurationMs:        w.Duration.Milliseconds(),
		Error:             w.Error,
	}

	if withScrapers {
		resp.ScraperExecutions = make([]ScraperExecutionResponse, len(w.ScraperExecutions))
		for i, se := range w.ScraperExecutions {
			resp.ScraperExecutions[i] = ScraperExecutionResponse{
				ScraperName:  se.ScraperName,
				Status:       string(se.Status),
				ExecutionID:  se.ExecutionID,
				Attempts:     se.Attempts,
				DurationMs:   se.Duration.Milliseconds(),
				RecordCount:  se.RecordCount,
				ErrorClass:   se.ErrorClass,
				ErrorMessage: se.ErrorMessage,
				DataSummary:  se.DataSummary,
				StartedAt:    se.StartedAt,
			}
		}
	}
	return resp
}

// Breaker DTOs

// BreakerResponse — состояние breaker'а одного ресурса.
type BreakerResponse struct {
	Resource            string     `json:"resource"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ProbeInFlight       bool       `json:"probe_in_flight"`
}

// BreakerFromSnapshot конвертирует breaker.Snapshot в BreakerResponse.
func BreakerFromSnapshot(s breaker.Snapshot) BreakerResponse {
	return BreakerResponse{
		Resource:            s.Resource,
		State:               s.State.String(),
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastFailureAt:       timePtr(s.LastFailureAt),
		OpenedAt:            timePtr(s.OpenedAt),
		ProbeInFlight:       s.ProbeInFlight,
	}
}

// BreakersResponse — все breakers процесса.
type BreakersResponse struct {
	Enabled  bool              `json:"enabled"`
	Breakers []BreakerResponse `json:"breakers"`
}

// Lock DTOs

// LockReleaseResponse — результат принудительного освобождения.
type LockReleaseResponse struct {
	LockKey  string `json:"lock_key"`
	Released bool   `json:"released"`
}

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status          string                        `json:"status"`
	Uptime          string                        `json:"uptime"`
	ActiveDecisions []orchestrator.ActiveDecision `json:"active_decisions"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
