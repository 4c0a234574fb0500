package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Harvest/internal/backoff"
)

// fakeClock — часы, которые двигает только sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func testPolicies() Policies {
	p := backoff.Params{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
		Deadline:       2 * time.Minute,
	}
	return Policies{Contention: p, Overload: p, TransientInfra: p}
}

func newTestRetrier(clock *fakeClock, policies Policies, events *[]Event) *Retrier {
	return New(Config{
		Rules:    policies.Rules(),
		Resource: "test",
		Clock:    clock.Now,
		Sleep:    clock.Sleep,
		Observer: func(ev Event) { *events = append(*events, ev) },
	})
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// --- Execute Tests ---

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	var events []Event
	r := newTestRetrier(newFakeClock(), testPolicies(), &events)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	var events []Event
	r := newTestRetrier(newFakeClock(), testPolicies(), &events)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return &Failure{StatusCode: 500, Message: "internal"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if got := countEvents(events, EventRetry); got != 2 {
		t.Errorf("expected 2 retry events, got %d", got)
	}
	if got := countEvents(events, EventRecovered); got != 1 {
		t.Errorf("expected 1 recovered event, got %d", got)
	}
	last := events[len(events)-1]
	if last.Class != ClassTransientInfra || last.Attempt != 3 {
		t.Errorf("unexpected recovered event: %+v", last)
	}
}

func TestExecute_FatalNoRetry(t *testing.T) {
	var events []Event
	r := newTestRetrier(newFakeClock(), testPolicies(), &events)

	notFound := &Failure{StatusCode: 404, Message: "not found"}
	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return notFound
	})

	if !errors.Is(err, notFound) {
		t.Fatalf("expected original error, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("fatal error should not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if got := countEvents(events, EventFatal); got != 1 {
		t.Errorf("expected 1 fatal event, got %d", got)
	}
}

func TestExecute_CircuitOpenNotRetried(t *testing.T) {
	var events []Event
	r := newTestRetrier(newFakeClock(), testPolicies(), &events)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return openErr{name: "prices"}
	})

	if Classify(err) != ClassCircuitOpen {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if events[0].Class != ClassCircuitOpen {
		t.Errorf("expected circuit_open event, got %q", events[0].Class)
	}
}

func TestExecute_DeadlineExhausted(t *testing.T) {
	clock := newFakeClock()
	var events []Event
	policies := testPolicies()
	policies.TransientInfra.Deadline = 10 * time.Second
	r := newTestRetrier(clock, policies, &events)

	start := clock.Now()
	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("exhausted error should wrap the last failure")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatal("expected *ExhaustedError")
	}
	if exhausted.Class != ClassTransientInfra {
		t.Errorf("expected transient_infra class, got %q", exhausted.Class)
	}
	if exhausted.Attempts != calls {
		t.Errorf("attempts %d != calls %d", exhausted.Attempts, calls)
	}
	if calls < 2 {
		t.Errorf("expected at least one retry within 10s deadline, got %d calls", calls)
	}
	if elapsed := clock.Now().Sub(start); elapsed > 10*time.Second {
		t.Errorf("retry slept past the class deadline: %v", elapsed)
	}
	if got := countEvents(events, EventExhausted); got != 1 {
		t.Errorf("expected 1 exhausted event, got %d", got)
	}
}

func TestExecute_MaxAttempts(t *testing.T) {
	var events []Event
	policies := testPolicies()
	policies.Contention.MaxAttempts = 3
	r := newTestRetrier(newFakeClock(), policies, &events)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return &Failure{StatusCode: 409}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecute_ContextDeadlineTighterThanClass(t *testing.T) {
	r := New(Config{Rules: testPolicies().Rules()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Execute(ctx, func(context.Context) error {
		return &Failure{StatusCode: 503}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	// Первая пауза ≥ 1s не помещается в 50ms — retry не спит.
	if time.Since(start) > time.Second {
		t.Errorf("retry should stop before sleeping past the context deadline")
	}
}

func TestExecute_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := New(Config{
		Rules: testPolicies().Rules(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	err := r.Execute(ctx, func(context.Context) error {
		return &Failure{StatusCode: 500}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation during backoff should be visible to the caller, got %v", err)
	}
	var f *Failure
	if !errors.As(err, &f) || f.StatusCode != 500 {
		t.Errorf("last failure should still be reachable, got %v", err)
	}
}

func TestExecute_CancelledDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := New(Config{Rules: testPolicies().Rules()})

	err := r.Execute(ctx, func(context.Context) error {
		cancel()
		return &Failure{StatusCode: 503}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestExecute_ClassSwitchUsesOwnPolicy(t *testing.T) {
	clock := newFakeClock()
	var events []Event
	policies := testPolicies()
	policies.Overload.InitialDelay = 20 * time.Second
	policies.Overload.MaxDelay = 20 * time.Second
	policies.Overload.JitterFraction = 0
	r := newTestRetrier(clock, policies, &events)

	calls := 0
	_ = r.Execute(context.Background(), func(context.Context) error {
		calls++
		switch calls {
		case 1:
			return &Failure{StatusCode: 500}
		case 2:
			return &Failure{StatusCode: 429}
		default:
			return nil
		}
	})

	var delays []Event
	for _, ev := range events {
		if ev.Type == EventRetry {
			delays = append(delays, ev)
		}
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 retries, got %d", len(delays))
	}
	if delays[1].Class != ClassOverload || delays[1].Delay != 20*time.Second {
		t.Errorf("overload retry should use overload params, got %+v", delays[1])
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	clock := newFakeClock()
	var events []Event
	r := newTestRetrier(clock, testPolicies(), &events)

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &Failure{Kind: KindConnection}
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestPolicies_WithTransientDeadline(t *testing.T) {
	p := DefaultPolicies().WithTransientDeadline(time.Minute)
	if p.TransientInfra.Deadline != time.Minute {
		t.Errorf("expected 1m, got %v", p.TransientInfra.Deadline)
	}

	p = DefaultPolicies().WithTransientDeadline(time.Hour)
	if p.TransientInfra.Deadline != 3*time.Minute {
		t.Errorf("looser deadline should not override, got %v", p.TransientInfra.Deadline)
	}
}
