package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/executor"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/mq"
)

// --- fakes ---

type fakeExecutor struct {
	mu        sync.Mutex
	fail      map[string]bool
	err       error
	calls     int
	persisted []uuid.UUID
	persistFn func(w *domain.WorkflowExecution) (bool, error)
	during    func()
}

func (f *fakeExecutor) Execute(ctx context.Context, d *domain.Decision) (*domain.WorkflowExecution, error) {
	f.mu.Lock()
	f.calls++
	during := f.during
	f.mu.Unlock()

	if during != nil {
		during()
	}
	if f.err != nil && !errors.Is(f.err, executor.ErrPersistFailed) {
		return nil, f.err
	}

	w := domain.NewWorkflowExecution(d)
	for _, name := range d.Scrapers {
		se := domain.NewScraperExecution(name)
		if f.fail[name] {
			se.MarkFailed("fatal", "boom")
		} else {
			se.MarkSucceeded("", 1, nil)
		}
		w.ScraperExecutions = append(w.ScraperExecutions, se)
	}
	w.Finalize()
	return w, f.err
}

func (f *fakeExecutor) Persist(ctx context.Context, w *domain.WorkflowExecution) (bool, error) {
	if f.persistFn != nil {
		return f.persistFn(w)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, w.ExecutionID)
	return true, nil
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDates struct {
	mu     sync.Mutex
	marked map[string]uuid.UUID
	err    error
}

func newFakeDates() *fakeDates {
	return &fakeDates{marked: make(map[string]uuid.UUID)}
}

func (f *fakeDates) IsProcessed(ctx context.Context, workflow, date string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.marked[workflow+"/"+date]
	return ok, nil
}

func (f *fakeDates) MarkProcessed(ctx context.Context, workflow, date string, executionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := workflow + "/" + date
	if _, ok := f.marked[key]; ok {
		return false, nil
	}
	f.marked[key] = executionID
	return true, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	decisions []*domain.Decision
	completed []mq.CompletedPayload
	err       error
}

func (f *fakePublisher) PublishDecision(ctx context.Context, d *domain.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakePublisher) PublishCompleted(ctx context.Context, p mq.CompletedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, p)
	return nil
}

// --- helpers ---

func newTestOrchestrator(exec Executor, store lock.Store, dates ProcessedDates, pub Publisher) *Orchestrator {
	return New(Config{
		Executor: exec,
		Locker: lock.New(lock.Config{
			Store:        store,
			PollInterval: time.Millisecond,
		}),
		ProcessedDates: dates,
		Publisher:      pub,
		LockMaxWait:    50 * time.Millisecond,
	})
}

func decision(id string, scrapers ...string) *domain.Decision {
	return &domain.Decision{
		DecisionID:   id,
		WorkflowName: "daily",
		Scrapers:     scrapers,
		BusinessDate: "2026-03-01",
	}
}

func message(t *testing.T, msgType mq.MessageType, payload any) *mq.Message {
	t.Helper()
	msg, err := mq.NewMessage(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

// --- Process ---

func TestProcess_SuccessMarksBusinessDate(t *testing.T) {
	exec := &fakeExecutor{}
	dates := newFakeDates()
	pub := &fakePublisher{}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), dates, pub)

	res, err := o.Process(context.Background(), decision("d-1", "prices", "stock"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.Persisted || !res.DateMarked {
		t.Errorf("expected persisted and marked, got %+v", res)
	}
	if dates.marked["daily/2026-03-01"] != res.Execution.ExecutionID {
		t.Error("business date should be marked by this execution")
	}
	if len(pub.completed) != 1 || pub.completed[0].Succeeded != 2 {
		t.Errorf("expected one completion event, got %+v", pub.completed)
	}
}

func TestProcess_PartialFailureLeavesDateOpen(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]bool{"stock": true}}
	dates := newFakeDates()
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), dates, nil)

	res, err := o.Process(context.Background(), decision("d-1", "prices", "stock"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.DateMarked || len(dates.marked) != 0 {
		t.Error("partial failure must not mark the business date")
	}
	if res.Execution.Status != domain.WorkflowStatusPartialFailure {
		t.Errorf("unexpected status %s", res.Execution.Status)
	}
}

func TestProcess_NoBusinessDate(t *testing.T) {
	dates := newFakeDates()
	o := newTestOrchestrator(&fakeExecutor{}, lock.NewMemoryStore(), dates, nil)

	d := decision("d-1", "prices")
	d.BusinessDate = ""

	res, err := o.Process(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.DateMarked || len(dates.marked) != 0 {
		t.Error("nothing to mark without a business date")
	}
}

func TestProcess_DateAlreadyProcessed(t *testing.T) {
	exec := &fakeExecutor{}
	dates := newFakeDates()
	dates.marked["daily/2026-03-01"] = uuid.New()
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), dates, nil)

	_, err := o.Process(context.Background(), decision("d-2", "prices"))
	if !errors.Is(err, ErrDateAlreadyProcessed) {
		t.Fatalf("expected ErrDateAlreadyProcessed, got %v", err)
	}
	if exec.Calls() != 0 {
		t.Error("processed date must not run scrapers again")
	}
}

func TestProcess_LockHeldTimesOut(t *testing.T) {
	store := lock.NewMemoryStore()
	exec := &fakeExecutor{}
	o := newTestOrchestrator(exec, store, nil, nil)

	d := decision("d-1", "prices")
	other := lock.New(lock.Config{Store: store})
	h, err := other.Acquire(context.Background(), d.Key(), "other-op", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(context.Background())

	_, err = o.Process(context.Background(), d)
	if !errors.Is(err, lock.ErrLockAcquisitionTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if exec.Calls() != 0 {
		t.Error("executor must not run without the lock")
	}
}

func TestProcess_ReleasesLockAndTracksActive(t *testing.T) {
	store := lock.NewMemoryStore()
	exec := &fakeExecutor{}
	o := newTestOrchestrator(exec, store, nil, nil)
	d := decision("d-1", "prices")

	exec.during = func() {
		active := o.ActiveDecisions()
		if len(active) != 1 || active[0].Key != d.Key() {
			t.Errorf("expected decision to be active, got %+v", active)
		}
		rec, err := store.Get(context.Background(), "workflow_daily_d-1")
		if err != nil || rec == nil {
			t.Errorf("decision lock should be held: %v", err)
		}
	}

	if _, err := o.Process(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if len(o.ActiveDecisions()) != 0 {
		t.Error("decision should no longer be active")
	}
	if _, err := store.Get(context.Background(), "workflow_daily_d-1"); !errors.Is(err, lock.ErrLockNotFound) {
		t.Errorf("lock should be released, got %v", err)
	}
}

func TestProcess_PersistFailureSkipsDateMark(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("%w: db down", executor.ErrPersistFailed)}
	dates := newFakeDates()
	pub := &fakePublisher{}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), dates, pub)

	res, err := o.Process(context.Background(), decision("d-1", "prices"))
	if !errors.Is(err, executor.ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed, got %v", err)
	}
	if res == nil || res.Persisted {
		t.Fatalf("expected unpersisted result, got %+v", res)
	}
	if len(dates.marked) != 0 {
		t.Error("unpersisted execution must not mark the date")
	}
	if len(pub.completed) != 1 || pub.completed[0].Persisted {
		t.Errorf("completion event should report persisted=false, got %+v", pub.completed)
	}
}

// --- handlers ---

func TestHandleDecision_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		exec       *fakeExecutor
		payload    any
		wantReject bool
		wantErr    bool
	}{
		{"success", &fakeExecutor{}, decision("d-1", "prices"), false, false},
		{"invalid decision", &fakeExecutor{}, &domain.Decision{WorkflowName: "daily"}, true, true},
		{"malformed payload", &fakeExecutor{}, []string{"nope"}, true, true},
		{"persist failed is acked", &fakeExecutor{err: executor.ErrPersistFailed}, decision("d-1", "prices"), false, false},
		{"dedup failure is requeued", &fakeExecutor{err: executor.ErrDedupLookup}, decision("d-1", "prices"), false, true},
		{"lost lease is acked", &fakeExecutor{err: fmt.Errorf("%w: workflow_daily_d-1", lock.ErrLeaseLost)}, decision("d-1", "prices"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(tt.exec, lock.NewMemoryStore(), nil, nil)

			err := o.handleDecision(context.Background(), message(t, mq.MessageTypeDecision, tt.payload))

			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if errors.Is(err, mq.ErrReject) != tt.wantReject {
				t.Errorf("reject = %v, want %v (err %v)", errors.Is(err, mq.ErrReject), tt.wantReject, err)
			}
		})
	}
}

func TestHandleDecision_AlreadyProcessedIsAcked(t *testing.T) {
	dates := newFakeDates()
	dates.marked["daily/2026-03-01"] = uuid.New()
	o := newTestOrchestrator(&fakeExecutor{}, lock.NewMemoryStore(), dates, nil)

	if err := o.handleDecision(context.Background(), message(t, mq.MessageTypeDecision, decision("d-1", "prices"))); err != nil {
		t.Errorf("expected ack, got %v", err)
	}
}

func TestHandleUnpersisted_Replays(t *testing.T) {
	exec := &fakeExecutor{}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), nil, nil)

	w := domain.NewWorkflowExecution(decision("d-1", "prices"))
	w.Finalize()

	if err := o.handleUnpersisted(context.Background(), message(t, mq.MessageTypeUnpersisted, w)); err != nil {
		t.Fatal(err)
	}
	if len(exec.persisted) != 1 || exec.persisted[0] != w.ExecutionID {
		t.Errorf("expected replay of %s, got %v", w.ExecutionID, exec.persisted)
	}
}

func TestHandleUnpersisted_FailureRequeues(t *testing.T) {
	exec := &fakeExecutor{persistFn: func(*domain.WorkflowExecution) (bool, error) {
		return false, errors.New("still down")
	}}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), nil, nil)

	w := domain.NewWorkflowExecution(decision("d-1", "prices"))
	body, _ := json.Marshal(w)

	err := o.handleUnpersisted(context.Background(), &mq.Message{Type: mq.MessageTypeUnpersisted, Payload: body})
	if err == nil || errors.Is(err, mq.ErrReject) {
		t.Errorf("expected requeue error, got %v", err)
	}
}

// --- Submit ---

func TestSubmit_PublishesWithBroker(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &fakePublisher{}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), nil, pub)

	if err := o.Submit(context.Background(), decision("d-1", "prices")); err != nil {
		t.Fatal(err)
	}
	o.Stop()

	if len(pub.decisions) != 1 {
		t.Fatalf("expected decision published, got %d", len(pub.decisions))
	}
	if pub.decisions[0].CreatedAt.IsZero() {
		t.Error("created_at should be stamped on submit")
	}
	if exec.Calls() != 0 {
		t.Error("with a broker the decision must not run in-process")
	}
}

func TestSubmit_RunsInProcessWithoutBroker(t *testing.T) {
	exec := &fakeExecutor{}
	o := newTestOrchestrator(exec, lock.NewMemoryStore(), nil, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := o.Submit(context.Background(), decision("d-1", "prices")); err != nil {
		t.Fatal(err)
	}
	o.Stop()

	if exec.Calls() != 1 {
		t.Errorf("expected one in-process execution, got %d", exec.Calls())
	}
}

func TestSubmit_RejectsInvalidAndStopped(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{}, lock.NewMemoryStore(), nil, &fakePublisher{})

	if err := o.Submit(context.Background(), &domain.Decision{}); !errors.Is(err, domain.ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}

	o.Stop()
	if err := o.Submit(context.Background(), decision("d-1", "prices")); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("expected ErrOrchestratorStopped, got %v", err)
	}
}

func TestSubmit_PublishError(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{}, lock.NewMemoryStore(), nil, &fakePublisher{err: errors.New("broker down")})

	if err := o.Submit(context.Background(), decision("d-1", "prices")); err == nil {
		t.Error("expected publish error")
	}
}
