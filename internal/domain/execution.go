package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScraperExecution — результат одного вызова scraper'а внутри workflow.
//
// Создаётся в момент начала вызова (pending) и финализируется ровно один раз,
// когда вызов вместе со всеми retry завершён.
type ScraperExecution struct {
	// ScraperName — имя scraper'а.
	ScraperName string `json:"scraper_name"`

	// Status — статус вызова.
	Status ScraperStatus `json:"status"`

	// ExecutionID — идентификатор выполнения, возвращённый scraper'ом.
	ExecutionID string `json:"execution_id,omitempty"`

	// Attempts — число попыток (1 — без retry, 0 — вызова не было).
	Attempts int `json:"attempts"`

	// Duration — продолжительность вызова, включая паузы между retry.
	Duration time.Duration `json:"duration"`

	// RecordCount — количество записанных scraper'ом строк.
	RecordCount int64 `json:"record_count"`

	// ErrorMessage — текст ошибки при неудаче.
	ErrorMessage string `json:"error_message,omitempty"`

	// ErrorClass — класс ошибки (contention, overload, transient_infra, circuit_open, fatal).
	ErrorClass string `json:"error_class,omitempty"`

	// DataSummary — краткая сводка данных от scraper'а.
	DataSummary map[string]any `json:"data_summary,omitempty"`

	// StartedAt — время начала вызова.
	StartedAt time.Time `json:"started_at"`
}

// NewScraperExecution создаёт ScraperExecution в статусе pending.
func NewScraperExecution(name string) *ScraperExecution {
	return &ScraperExecution{
		ScraperName: name,
		Status:      ScraperStatusPending,
		StartedAt:   time.Now(),
	}
}

// MarkSucceeded финализирует вызов как успешный.
// Повторная финализация игнорируется.
func (e *ScraperExecution) MarkSucceeded(executionID string, recordCount int64, summary map[string]any) {
	if e.IsFinalized() {
		return
	}
	e.Status = ScraperStatusSuccess
	e.ExecutionID = executionID
	e.RecordCount = recordCount
	e.DataSummary = summary
	e.Duration = time.Since(e.StartedAt)
}

// MarkFailed финализирует вызов как упавший.
// Повторная финализация игнорируется.
func (e *ScraperExecution) MarkFailed(class, errMsg string) {
	if e.IsFinalized() {
		return
	}
	e.Status = ScraperStatusFailed
	e.ErrorClass = class
	e.ErrorMessage = errMsg
	e.Duration = time.Since(e.StartedAt)
}

// IsFinalized возвращает true, если результат уже зафиксирован.
func (e *ScraperExecution) IsFinalized() bool {
	return e.Status.IsTerminal()
}

// WorkflowExecution — агрегат выполнения одного решения.
//
// Владеет своими ScraperExecutions (композиция). После сохранения не изменяется.
type WorkflowExecution struct {
	// ExecutionID — уникальный идентификатор выполнения.
	ExecutionID uuid.UUID `json:"execution_id"`

	// WorkflowName — имя workflow.
	WorkflowName string `json:"workflow_name"`

	// DecisionID — ключ решения.
	DecisionID string `json:"decision_id"`

	// ExecutionTime — время начала выполнения.
	ExecutionTime time.Time `json:"execution_time"`

	// Status — итоговый статус.
	Status WorkflowStatus `json:"status"`

	// ScrapersRequested — запрошенные scrapers в исходном порядке.
	ScrapersRequested []string `json:"scrapers_requested"`

	// SkippedScrapers — scrapers, пропущенные дедупликацией (уже успешны ранее).
	SkippedScrapers []string `json:"skipped_scrapers,omitempty"`

	// ScrapersTriggered — сколько scrapers было запущено (включая отклонённые breaker'ом).
	ScrapersTriggered int `json:"scrapers_triggered"`

	// ScrapersSucceeded — сколько scrapers завершилось успешно.
	ScrapersSucceeded int `json:"scrapers_succeeded"`

	// ScrapersFailed — сколько scrapers упало.
	ScrapersFailed int `json:"scrapers_failed"`

	// ScraperExecutions — результаты в порядке ScrapersRequested.
	ScraperExecutions []*ScraperExecution `json:"scraper_executions"`

	// Duration — общая продолжительность выполнения.
	Duration time.Duration `json:"duration"`

	// Error — сводка ошибок (для отчётов).
	Error string `json:"error,omitempty"`
}

// NewWorkflowExecution создаёт агрегат для решения.
func NewWorkflowExecution(d *Decision) *WorkflowExecution {
	requested := make([]string, len(d.Scrapers))
	copy(requested, d.Scrapers)

	return &WorkflowExecution{
		ExecutionID:       uuid.New(),
		WorkflowName:      d.WorkflowName,
		DecisionID:        d.DecisionID,
		ExecutionTime:     time.Now(),
		Status:            WorkflowStatusRunning,
		ScrapersRequested: requested,
	}
}

// Finalize подсчитывает счётчики и итоговый статус.
func (w *WorkflowExecution) Finalize() {
	w.ScrapersTriggered = len(w.ScraperExecutions)
	w.ScrapersSucceeded = 0
	w.ScrapersFailed = 0

	for _, se := range w.ScraperExecutions {
		switch se.Status {
		case ScraperStatusSuccess:
			w.ScrapersSucceeded++
		case ScraperStatusFailed:
			w.ScrapersFailed++
		}
	}

	switch {
	case w.ScrapersTriggered == 0:
		w.Status = WorkflowStatusSkipped
	case w.ScrapersFailed == 0:
		w.Status = WorkflowStatusSuccess
	case w.ScrapersSucceeded == 0:
		w.Status = WorkflowStatusFailed
	default:
		w.Status = WorkflowStatusPartialFailure
	}

	w.Duration = time.Since(w.ExecutionTime)
}

// FailedScrapers возвращает имена упавших scrapers.
func (w *WorkflowExecution) FailedScrapers() []string {
	var names []string
	for _, se := range w.ScraperExecutions {
		if se.Status == ScraperStatusFailed {
			names = append(names, se.ScraperName)
		}
	}
	return names
}

// AllSucceeded возвращает true, если все запрошенные scrapers
// успешны — в этом выполнении или в предыдущих (пропущенные дедупликацией).
func (w *WorkflowExecution) AllSucceeded() bool {
	return w.ScrapersFailed == 0 &&
		w.ScrapersSucceeded+len(w.SkippedScrapers) == len(w.ScrapersRequested)
}
