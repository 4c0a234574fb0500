package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDecision — решение не прошло валидацию.
var ErrInvalidDecision = errors.New("invalid workflow decision")

// Decision — решение запустить workflow (единица работы для Executor).
//
// Decision не знает, КОГДА его запускать — это забота внешнего планировщика.
// Executor отвечает только за то, КАК надёжно выполнить перечисленные scrapers.
type Decision struct {
	// DecisionID — ключ решения. Вместе с WorkflowName используется для дедупликации.
	DecisionID string `json:"decision_id"`

	// WorkflowName — имя workflow (например, "daily-prices").
	WorkflowName string `json:"workflow_name"`

	// Scrapers — упорядоченный список scrapers для запуска.
	// Порядок сохраняется в WorkflowExecution.ScraperExecutions.
	Scrapers []string `json:"scrapers"`

	// Inputs — общие входные данные решения (доступны в шаблонах параметров).
	Inputs map[string]any `json:"inputs,omitempty"`

	// Parameters — параметры конкретных scrapers (scraper → параметры).
	Parameters map[string]map[string]any `json:"parameters,omitempty"`

	// BusinessDate — бизнес-дата, которую покрывает решение (YYYY-MM-DD). Опционально.
	BusinessDate string `json:"business_date,omitempty"`

	// CreatedAt — время создания решения.
	CreatedAt time.Time `json:"created_at"`
}

// Validate проверяет обязательные поля.
func (d *Decision) Validate() error {
	if d.WorkflowName == "" {
		return fmt.Errorf("%w: workflow_name is required", ErrInvalidDecision)
	}
	if d.DecisionID == "" {
		return fmt.Errorf("%w: decision_id is required", ErrInvalidDecision)
	}
	if len(d.Scrapers) == 0 {
		return fmt.Errorf("%w: at least one scraper is required", ErrInvalidDecision)
	}

	seen := make(map[string]bool, len(d.Scrapers))
	for _, name := range d.Scrapers {
		if name == "" {
			return fmt.Errorf("%w: empty scraper name", ErrInvalidDecision)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate scraper %q", ErrInvalidDecision, name)
		}
		seen[name] = true
	}

	if d.BusinessDate != "" {
		if _, err := time.Parse(time.DateOnly, d.BusinessDate); err != nil {
			return fmt.Errorf("%w: business_date must be YYYY-MM-DD", ErrInvalidDecision)
		}
	}
	return nil
}

// Key возвращает ключ дедупликации решения.
func (d *Decision) Key() string {
	return d.WorkflowName + "_" + d.DecisionID
}
