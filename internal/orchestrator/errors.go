package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrOrchestratorStopped — оркестратор остановлен, новые решения не принимаются.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrDateAlreadyProcessed — бизнес-дата решения уже обработана.
	ErrDateAlreadyProcessed = errors.New("business date already processed")
)
