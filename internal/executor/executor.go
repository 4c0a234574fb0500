// Package executor выполняет решение workflow: параллельно вызывает
// запрошенные scrapers и сохраняет один агрегат WorkflowExecution.
//
// Для каждого scraper'а:
//
//	параметры и таймаут → circuit breaker → классифицированный retry → вызов
//
// Ошибка одного scraper'а не прерывает остальные. Scrapers, уже успешно
// выполненные для того же решения, пропускаются.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Harvest/internal/breaker"
	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/retry"
	"github.com/shaiso/Harvest/internal/scraper"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultPoolSize           = 4
	DefaultTimeout            = 5 * time.Minute
	DefaultSchedulingOverhead = 30 * time.Second
)

// Store — хранилище записей выполнений.
type Store interface {
	// SucceededScrapers возвращает scrapers, успешно выполненные для решения ранее.
	SucceededScrapers(ctx context.Context, workflow, decisionID string) ([]string, error)

	// Save сохраняет агрегат. Идемпотентно по ExecutionID.
	Save(ctx context.Context, w *domain.WorkflowExecution) (bool, error)
}

// Invoker вызывает scraper (одна попытка).
type Invoker interface {
	Invoke(ctx context.Context, req scraper.Request) (*scraper.Response, error)
}

// UnpersistedSink принимает агрегаты, которые не удалось сохранить.
type UnpersistedSink interface {
	PublishUnpersisted(ctx context.Context, w *domain.WorkflowExecution) error
}

// Config — настройки Executor.
type Config struct {
	Store    Store
	Invoker  Invoker
	Breakers *breaker.Manager

	// Params (default: TemplateResolver{}).
	Params ParamResolver

	// Unpersisted — куда отправить агрегат, если сохранить не удалось (опционально).
	Unpersisted UnpersistedSink

	// Policies — параметры retry (default: retry.DefaultPolicies()).
	Policies *retry.Policies

	// PoolSize — число одновременных вызовов scrapers (default: 4).
	PoolSize int

	// DefaultTimeout — таймаут вызова scraper'а (default: 5m).
	DefaultTimeout time.Duration

	// Timeouts — таймауты отдельных scrapers.
	Timeouts map[string]time.Duration

	// SchedulingOverhead добавляется к таймауту каждого вызова (default: 30s).
	SchedulingOverhead time.Duration

	// Logger
	Logger *slog.Logger

	// Clock и Sleep передаются в retry (подменяются в тестах).
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor выполняет решения workflow.
type Executor struct {
	store       Store
	invoker     Invoker
	breakers    *breaker.Manager
	params      ParamResolver
	unpersisted UnpersistedSink
	policies    retry.Policies
	poolSize    int
	timeout     time.Duration
	timeouts    map[string]time.Duration
	overhead    time.Duration
	logger      *slog.Logger
	clock       func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	if cfg.Params == nil {
		cfg.Params = TemplateResolver{}
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewManager(breaker.ManagerConfig{Logger: cfg.Logger})
	}
	policies := retry.DefaultPolicies()
	if cfg.Policies != nil {
		policies = *cfg.Policies
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.SchedulingOverhead <= 0 {
		cfg.SchedulingOverhead = DefaultSchedulingOverhead
	}

	return &Executor{
		store:       cfg.Store,
		invoker:     cfg.Invoker,
		breakers:    cfg.Breakers,
		params:      cfg.Params,
		unpersisted: cfg.Unpersisted,
		policies:    policies,
		poolSize:    cfg.PoolSize,
		timeout:     cfg.DefaultTimeout,
		timeouts:    cfg.Timeouts,
		overhead:    cfg.SchedulingOverhead,
		logger:      telemetry.OrDefault(cfg.Logger),
		clock:       cfg.Clock,
		sleep:       cfg.Sleep,
	}
}

// Breakers возвращает реестр breaker'ов executor'а.
func (e *Executor) Breakers() *breaker.Manager {
	return e.breakers
}

// TimeoutFor возвращает таймаут вызова scraper'а: персональный или по умолчанию.
func (e *Executor) TimeoutFor(scraperName string) time.Duration {
	if t, ok := e.timeouts[scraperName]; ok && t > 0 {
		return t
	}
	return e.timeout
}

// Execute выполняет решение и сохраняет агрегат ровно один раз.
//
// Упавшие scrapers не делают Execute ошибочным: они отражены в агрегате.
// Ошибка возвращается, если решение невалидно, недоступна история выполнений
// (ErrDedupLookup) или агрегат не удалось сохранить (ErrPersistFailed;
// агрегат в этом случае тоже возвращается).
func (e *Executor) Execute(ctx context.Context, d *domain.Decision) (*domain.WorkflowExecution, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	w := domain.NewWorkflowExecution(d)
	logger := telemetry.WithExecutionID(
		telemetry.WithDecisionID(telemetry.WithWorkflow(e.logger, d.WorkflowName), d.DecisionID),
		w.ExecutionID.String(),
	)

	toRun, skipped, err := e.dedup(ctx, d)
	if err != nil {
		return nil, err
	}
	w.SkippedScrapers = skipped

	logger.Info("executing workflow decision",
		"requested", len(d.Scrapers),
		"dispatching", len(toRun),
		"skipped", len(skipped),
		"pool_size", e.poolSize,
	)

	results := make([]*domain.ScraperExecution, len(toRun))

	var g errgroup.Group
	g.SetLimit(e.poolSize)
	for i, name := range toRun {
		g.Go(func() error {
			results[i] = e.runScraper(ctx, d, name, logger)
			return nil
		})
	}
	_ = g.Wait()

	w.ScraperExecutions = results
	w.Finalize()
	w.Error = summarizeFailures(w)

	telemetry.WorkflowExecutions.WithLabelValues(w.WorkflowName, string(w.Status)).Inc()
	logger.Info("workflow decision executed",
		"status", w.Status,
		"triggered", w.ScrapersTriggered,
		"succeeded", w.ScrapersSucceeded,
		"failed", w.ScrapersFailed,
		"duration", w.Duration,
	)

	if _, err := e.Persist(ctx, w); err != nil {
		logger.Error("persist workflow execution failed", "error", err)
		e.handOff(ctx, w, logger)
		return w, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return w, nil
}

// Persist сохраняет агрегат под классифицированным retry.
// inserted == false, если агрегат уже был сохранён раньше.
func (e *Executor) Persist(ctx context.Context, w *domain.WorkflowExecution) (inserted bool, err error) {
	r := e.newRetrier(e.policies, "workflow_executions")
	return retry.Do(ctx, r, func(ctx context.Context) (bool, error) {
		return e.store.Save(ctx, w)
	})
}

// dedup делит запрошенные scrapers на те, что нужно запустить,
// и уже успешные ранее. Порядок запроса сохраняется в обоих списках.
func (e *Executor) dedup(ctx context.Context, d *domain.Decision) (toRun, skipped []string, err error) {
	r := e.newRetrier(e.policies, "scraper_executions")
	done, err := retry.Do(ctx, r, func(ctx context.Context) ([]string, error) {
		return e.store.SucceededScrapers(ctx, d.WorkflowName, d.DecisionID)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDedupLookup, err)
	}

	doneSet := make(map[string]struct{}, len(done))
	for _, name := range done {
		doneSet[name] = struct{}{}
	}

	for _, name := range d.Scrapers {
		if _, ok := doneSet[name]; ok {
			skipped = append(skipped, name)
			continue
		}
		toRun = append(toRun, name)
	}
	return toRun, skipped, nil
}

// runScraper выполняет один scraper со всеми retry и возвращает финализированный результат.
func (e *Executor) runScraper(ctx context.Context, d *domain.Decision, name string, logger *slog.Logger) *domain.ScraperExecution {
	se := domain.NewScraperExecution(name)
	logger = telemetry.WithScraper(logger, name)

	defer func() {
		telemetry.ScraperExecutions.WithLabelValues(name, string(se.Status)).Inc()
		telemetry.ScraperDuration.WithLabelValues(name).Observe(se.Duration.Seconds())
	}()

	params, err := e.params.Resolve(d, name)
	if err != nil {
		se.MarkFailed(string(retry.ClassFatal), err.Error())
		logger.Error("resolve scraper parameters failed", "error", err)
		return se
	}

	// Каждая попытка ограничена своим таймаутом; deadline transient_infra
	// ограничивает серию попыток и не выходит за общий бюджет вызывающего.
	callTimeout := e.TimeoutFor(name) + e.overhead
	policies := e.policies
	if dl, ok := ctx.Deadline(); ok {
		policies = policies.WithTransientDeadline(dl.Sub(e.now()))
	}
	r := e.newRetrier(policies, name)

	req := scraper.Request{
		ScraperName:  name,
		Parameters:   params,
		WorkflowName: d.WorkflowName,
	}

	var (
		attempts atomic.Int32
		resp     *scraper.Response
	)
	call := func(ctx context.Context) error {
		attempts.Add(1)
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		out, err := e.invoker.Invoke(callCtx, req)
		if err != nil {
			return err
		}
		if out == nil {
			out = &scraper.Response{Status: scraper.StatusSuccess}
		}
		resp = out
		return nil
	}

	err = e.breakers.Execute(ctx, name, func(ctx context.Context) error {
		return r.Execute(ctx, call)
	})
	se.Attempts = int(attempts.Load())

	switch {
	case err == nil:
		se.MarkSucceeded(resp.ExecutionID, resp.RecordCount, resp.DataSummary)
		logger.Info("scraper succeeded",
			"attempts", se.Attempts,
			"record_count", se.RecordCount,
			"duration", se.Duration,
		)

	case errors.Is(err, breaker.ErrCircuitOpen):
		se.MarkFailed(string(retry.ClassCircuitOpen), err.Error())
		logger.Warn("scraper skipped: circuit open", "error", err)

	default:
		class := retry.Classify(err)
		se.MarkFailed(string(class), err.Error())
		logger.Error("scraper failed",
			"class", class,
			"attempts", se.Attempts,
			"error", err,
		)
	}
	return se
}

func (e *Executor) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

func (e *Executor) newRetrier(p retry.Policies, resource string) *retry.Retrier {
	return retry.New(retry.Config{
		Rules:    p.Rules(),
		Resource: resource,
		Logger:   e.logger,
		Clock:    e.clock,
		Sleep:    e.sleep,
	})
}

// handOff отправляет несохранённый агрегат на повторную запись.
func (e *Executor) handOff(ctx context.Context, w *domain.WorkflowExecution, logger *slog.Logger) {
	if e.unpersisted == nil {
		logger.Error("no sink for unpersisted execution, record is lost",
			"triggered", w.ScrapersTriggered,
			"succeeded", w.ScrapersSucceeded,
		)
		return
	}

	if err := e.unpersisted.PublishUnpersisted(context.WithoutCancel(ctx), w); err != nil {
		logger.Error("hand off unpersisted execution failed", "error", err)
		return
	}
	logger.Warn("unpersisted execution handed off for replay")
}

// summarizeFailures собирает "scraper: ошибка" по упавшим scrapers.
func summarizeFailures(w *domain.WorkflowExecution) string {
	var parts []string
	for _, se := range w.ScraperExecutions {
		if se.Status == domain.ScraperStatusFailed {
			parts = append(parts, se.ScraperName+": "+se.ErrorMessage)
		}
	}
	return strings.Join(parts, "; ")
}
