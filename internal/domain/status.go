package domain

// ScraperStatus — статус одного вызова scraper'а.
//
// Жизненный цикл:
//
//	pending → success
//	        ↘ failed
//
// Финализируется ровно один раз, когда попытка (вместе со всеми retry) завершена.
type ScraperStatus string

const (
	// ScraperStatusPending — вызов начат, результат ещё не известен.
	ScraperStatusPending ScraperStatus = "pending"

	// ScraperStatusSuccess — scraper отработал успешно.
	ScraperStatusSuccess ScraperStatus = "success"

	// ScraperStatusFailed — scraper упал (после всех retry) или был пропущен circuit breaker'ом.
	ScraperStatusFailed ScraperStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s ScraperStatus) IsTerminal() bool {
	switch s {
	case ScraperStatusSuccess, ScraperStatusFailed:
		return true
	default:
		return false
	}
}

// WorkflowStatus — итоговый статус выполнения workflow.
type WorkflowStatus string

const (
	// WorkflowStatusRunning — выполнение идёт (в хранилище не попадает).
	WorkflowStatusRunning WorkflowStatus = "running"

	// WorkflowStatusSuccess — все запущенные scrapers успешны.
	WorkflowStatusSuccess WorkflowStatus = "success"

	// WorkflowStatusPartialFailure — часть scrapers упала.
	WorkflowStatusPartialFailure WorkflowStatus = "partial_failure"

	// WorkflowStatusFailed — упали все запущенные scrapers.
	WorkflowStatusFailed WorkflowStatus = "failed"

	// WorkflowStatusSkipped — запускать нечего: все scrapers уже успешны в предыдущих выполнениях.
	WorkflowStatusSkipped WorkflowStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s WorkflowStatus) IsTerminal() bool {
	return s != WorkflowStatusRunning && s != ""
}
