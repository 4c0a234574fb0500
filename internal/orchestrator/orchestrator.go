package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/mq"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultLockMaxWait = 30 * time.Second
	ProcessedDateLock  = "processed_date"

	defaultPrefetch = 4
)

// Executor выполняет и сохраняет решения.
type Executor interface {
	Execute(ctx context.Context, d *domain.Decision) (*domain.WorkflowExecution, error)
	Persist(ctx context.Context, w *domain.WorkflowExecution) (bool, error)
}

// ProcessedDates — отметки об обработанных бизнес-датах.
type ProcessedDates interface {
	IsProcessed(ctx context.Context, workflow, date string) (bool, error)
	MarkProcessed(ctx context.Context, workflow, date string, executionID uuid.UUID) (bool, error)
}

// Publisher публикует решения и итоги их выполнения.
type Publisher interface {
	PublishDecision(ctx context.Context, d *domain.Decision) error
	PublishCompleted(ctx context.Context, payload mq.CompletedPayload) error
}

// Config — конфигурация Orchestrator.
type Config struct {
	Executor Executor

	// Locker — блокировки решений. Блокировки бизнес-дат берутся через Locker.WithType.
	Locker *lock.Locker

	// ProcessedDates (опционально: без него бизнес-даты не отмечаются).
	ProcessedDates ProcessedDates

	// Publisher и Conn (опционально: без них решения выполняются в процессе).
	Publisher Publisher
	Conn      *mq.Connection

	// LockMaxWait — сколько ждать блокировку решения (default: 30s).
	LockMaxWait time.Duration

	// Prefetch — сколько решений обрабатывать параллельно из очереди (default: 4).
	Prefetch int

	Logger *slog.Logger
}

// Orchestrator принимает решения и выполняет их под распределённой блокировкой.
type Orchestrator struct {
	executor  Executor
	locker    *lock.Locker
	dateLock  *lock.Locker
	dates     ProcessedDates
	publisher Publisher
	conn      *mq.Connection
	maxWait   time.Duration
	prefetch  int
	logger    *slog.Logger

	active *activeSet

	// Lifecycle
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stoppedMu  sync.RWMutex
	stopped    bool
}

// Result — итог обработки одного решения.
type Result struct {
	Execution *domain.WorkflowExecution

	// Persisted == false, если агрегат ушёл на повторную запись.
	Persisted bool

	// DateMarked — бизнес-дата отмечена обработанной этим выполнением.
	DateMarked bool
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.LockMaxWait <= 0 {
		cfg.LockMaxWait = DefaultLockMaxWait
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}

	logger := telemetry.OrDefault(cfg.Logger).With("component", "orchestrator")

	return &Orchestrator{
		executor:  cfg.Executor,
		locker:    cfg.Locker,
		dateLock:  cfg.Locker.WithType(ProcessedDateLock),
		dates:     cfg.ProcessedDates,
		publisher: cfg.Publisher,
		conn:      cfg.Conn,
		maxWait:   cfg.LockMaxWait,
		prefetch:  cfg.Prefetch,
		logger:    logger,
		active:    newActiveSet(),
		baseCtx:   context.Background(),
	}
}

// Start запускает consumers решений и несохранённых агрегатов.
// Без подключения к RabbitMQ только запоминает контекст для Submit.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.baseCtx = ctx
	o.cancelFunc = cancel

	if o.conn == nil {
		o.logger.Info("orchestrator started without broker, decisions run in-process")
		return nil
	}

	consumers := []*mq.Consumer{
		mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueDecisions,
			Handler:  o.handleDecision,
			Prefetch: o.prefetch,
		}),
		mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueUnpersisted,
			Handler:  o.handleUnpersisted,
			Prefetch: 1,
		}),
	}

	for _, c := range consumers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("consumer stopped", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started", "prefetch", o.prefetch, "lock_max_wait", o.maxWait)
	return nil
}

// Stop останавливает consumers и ждёт выполняемые решения.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...", "active_decisions", o.active.len())

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// ActiveDecisions возвращает решения, выполняемые этим процессом.
func (o *Orchestrator) ActiveDecisions() []ActiveDecision {
	return o.active.list()
}

// Submit принимает решение к выполнению.
//
// С брокером решение публикуется в workflows.decisions, без брокера
// выполняется в фоновой горутине этого процесса.
func (o *Orchestrator) Submit(ctx context.Context, d *domain.Decision) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := d.Validate(); err != nil {
		return err
	}

	if o.publisher != nil {
		if err := o.publisher.PublishDecision(ctx, d); err != nil {
			return fmt.Errorf("publish decision: %w", err)
		}
		o.logger.Info("decision queued", "workflow", d.WorkflowName, "decision_id", d.DecisionID)
		return nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.Process(o.baseCtx, d); err != nil {
			o.logger.Error("in-process decision failed",
				"workflow", d.WorkflowName,
				"decision_id", d.DecisionID,
				"error", err,
			)
		}
	}()
	return nil
}

// Process выполняет решение под блокировкой "{lock_type}_{workflow}_{decision_id}".
//
// Если все запрошенные scrapers успешны и у решения есть бизнес-дата,
// дата отмечается обработанной под отдельной блокировкой. Решение с уже
// обработанной бизнес-датой не выполняется (ErrDateAlreadyProcessed).
func (o *Orchestrator) Process(ctx context.Context, d *domain.Decision) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	logger := telemetry.WithDecisionID(telemetry.WithWorkflow(o.logger, d.WorkflowName), d.DecisionID)

	if done, err := o.dateProcessed(ctx, d); err != nil {
		return nil, err
	} else if done {
		logger.Info("business date already processed, skipping decision", "business_date", d.BusinessDate)
		return nil, ErrDateAlreadyProcessed
	}

	var res *Result
	opID := uuid.NewString()

	err := o.locker.WithLock(ctx, d.Key(), opID, o.maxWait, func(ctx context.Context) error {
		o.active.add(ActiveDecision{
			Key:          d.Key(),
			WorkflowName: d.WorkflowName,
			DecisionID:   d.DecisionID,
			Scrapers:     len(d.Scrapers),
			StartedAt:    time.Now(),
		})
		defer o.active.remove(d.Key())

		var err error
		res, err = o.execute(telemetry.WithLogger(ctx, logger), d)
		return err
	})
	return res, err
}

// execute выполняет решение; вызывается под блокировкой решения.
func (o *Orchestrator) execute(ctx context.Context, d *domain.Decision) (*Result, error) {
	logger := telemetry.FromContext(ctx)

	w, err := o.executor.Execute(ctx, d)
	if w == nil {
		return nil, err
	}

	res := &Result{Execution: w, Persisted: err == nil}
	logger = telemetry.WithExecutionID(logger, w.ExecutionID.String())

	if res.Persisted && w.AllSucceeded() && d.BusinessDate != "" {
		marked, markErr := o.markDate(ctx, d, w)
		if markErr != nil {
			logger.Error("mark business date failed", "business_date", d.BusinessDate, "error", markErr)
		}
		res.DateMarked = marked
	}

	o.publishCompleted(ctx, d, w, res.Persisted, logger)
	return res, err
}

func (o *Orchestrator) dateProcessed(ctx context.Context, d *domain.Decision) (bool, error) {
	if o.dates == nil || d.BusinessDate == "" {
		return false, nil
	}
	done, err := o.dates.IsProcessed(ctx, d.WorkflowName, d.BusinessDate)
	if err != nil {
		return false, fmt.Errorf("check business date: %w", err)
	}
	return done, nil
}

// markDate отмечает бизнес-дату под блокировкой "processed_date_{workflow}_{date}".
func (o *Orchestrator) markDate(ctx context.Context, d *domain.Decision, w *domain.WorkflowExecution) (bool, error) {
	if o.dates == nil {
		return false, nil
	}

	var marked bool
	key := d.WorkflowName + "_" + d.BusinessDate
	err := o.dateLock.WithLock(ctx, key, w.ExecutionID.String(), o.maxWait, func(ctx context.Context) error {
		var err error
		marked, err = o.dates.MarkProcessed(ctx, d.WorkflowName, d.BusinessDate, w.ExecutionID)
		return err
	})
	if err != nil {
		return false, err
	}

	if marked {
		telemetry.FromContext(ctx).Info("business date marked processed", "business_date", d.BusinessDate)
	}
	return marked, nil
}

func (o *Orchestrator) publishCompleted(ctx context.Context, d *domain.Decision, w *domain.WorkflowExecution, persisted bool, logger *slog.Logger) {
	if o.publisher == nil {
		return
	}
	payload := mq.NewCompletedPayload(d, w, persisted)
	if err := o.publisher.PublishCompleted(context.WithoutCancel(ctx), payload); err != nil {
		logger.Error("publish workflow.completed failed", "error", err)
	}
}
