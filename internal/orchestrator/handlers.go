package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/executor"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/mq"
)

// handleDecision обрабатывает workflow.decision.
//
//	невалидное решение         → DLQ
//	бизнес-дата уже обработана → ack
//	таймаут блокировки         → requeue
//	аренда блокировки потеряна → ack (решение выполняет новый владелец)
//	агрегат не сохранён        → ack (агрегат уже в executions.unpersisted)
func (o *Orchestrator) handleDecision(ctx context.Context, msg *mq.Message) error {
	d, err := mq.Decode[domain.Decision](msg)
	if err != nil {
		return err
	}

	_, err = o.Process(ctx, &d)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, domain.ErrInvalidDecision):
		return fmt.Errorf("%w: %v", mq.ErrReject, err)

	case errors.Is(err, ErrDateAlreadyProcessed):
		return nil

	case errors.Is(err, executor.ErrPersistFailed):
		o.logger.Error("decision executed but not persisted",
			"workflow", d.WorkflowName,
			"decision_id", d.DecisionID,
			"error", err,
		)
		return nil

	case errors.Is(err, lock.ErrLeaseLost):
		o.logger.Error("decision lock lost during execution",
			"workflow", d.WorkflowName,
			"decision_id", d.DecisionID,
			"error", err,
		)
		return nil

	default:
		return err
	}
}

// handleUnpersisted повторяет запись агрегата. Запись идемпотентна по execution_id.
func (o *Orchestrator) handleUnpersisted(ctx context.Context, msg *mq.Message) error {
	w, err := mq.Decode[domain.WorkflowExecution](msg)
	if err != nil {
		return err
	}

	logger := o.logger.With(
		"workflow", w.WorkflowName,
		"decision_id", w.DecisionID,
		"execution_id", w.ExecutionID,
	)

	inserted, err := o.executor.Persist(ctx, &w)
	if err != nil {
		logger.Warn("replay persist failed", "error", err)
		return err
	}

	if inserted {
		logger.Info("unpersisted execution replayed")
	} else {
		logger.Info("execution already persisted, replay skipped")
	}
	return nil
}
