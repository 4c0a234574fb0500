package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecision_Validate(t *testing.T) {
	valid := func() *Decision {
		return &Decision{
			DecisionID:   "d-1",
			WorkflowName: "daily",
			Scrapers:     []string{"prices", "stock"},
			BusinessDate: "2026-03-01",
		}
	}

	tests := []struct {
		name    string
		mutate  func(d *Decision)
		wantErr bool
	}{
		{"valid", func(d *Decision) {}, false},
		{"no business date", func(d *Decision) { d.BusinessDate = "" }, false},
		{"missing workflow", func(d *Decision) { d.WorkflowName = "" }, true},
		{"missing decision id", func(d *Decision) { d.DecisionID = "" }, true},
		{"no scrapers", func(d *Decision) { d.Scrapers = nil }, true},
		{"empty scraper name", func(d *Decision) { d.Scrapers = []string{"prices", ""} }, true},
		{"duplicate scraper", func(d *Decision) { d.Scrapers = []string{"prices", "prices"} }, true},
		{"bad business date", func(d *Decision) { d.BusinessDate = "01.03.2026" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDecision) {
					t.Errorf("expected ErrInvalidDecision, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecision_Key(t *testing.T) {
	d := &Decision{WorkflowName: "daily", DecisionID: "2026-03-01"}
	if got := d.Key(); got != "daily_2026-03-01" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestScraperExecution_FinalizedOnce(t *testing.T) {
	se := NewScraperExecution("prices")
	if se.IsFinalized() {
		t.Fatal("new execution must be pending")
	}

	se.MarkSucceeded("ex-1", 42, nil)
	se.MarkFailed("fatal", "late failure")

	if se.Status != ScraperStatusSuccess {
		t.Errorf("expected success, got %s", se.Status)
	}
	if se.ErrorMessage != "" || se.RecordCount != 42 {
		t.Errorf("second finalization leaked into result: %+v", se)
	}
}

func TestWorkflowExecution_Finalize(t *testing.T) {
	succeeded := func(name string) *ScraperExecution {
		se := NewScraperExecution(name)
		se.MarkSucceeded("", 1, nil)
		return se
	}
	failed := func(name string) *ScraperExecution {
		se := NewScraperExecution(name)
		se.MarkFailed("fatal", "boom")
		return se
	}

	tests := []struct {
		name    string
		results []*ScraperExecution
		want    WorkflowStatus
	}{
		{"all succeeded", []*ScraperExecution{succeeded("a"), succeeded("b")}, WorkflowStatusSuccess},
		{"mixed", []*ScraperExecution{succeeded("a"), failed("b")}, WorkflowStatusPartialFailure},
		{"all failed", []*ScraperExecution{failed("a"), failed("b")}, WorkflowStatusFailed},
		{"nothing to run", nil, WorkflowStatusSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorkflowExecution(&Decision{WorkflowName: "daily", DecisionID: "d", Scrapers: []string{"a", "b"}})
			w.ScraperExecutions = tt.results
			w.Finalize()

			if w.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, w.Status)
			}
			if w.ScrapersTriggered != w.ScrapersSucceeded+w.ScrapersFailed {
				t.Errorf("counters do not add up: %d != %d + %d",
					w.ScrapersTriggered, w.ScrapersSucceeded, w.ScrapersFailed)
			}
			if !w.Status.IsTerminal() {
				t.Error("finalized status must be terminal")
			}
		})
	}
}

func TestWorkflowExecution_AllSucceeded(t *testing.T) {
	w := NewWorkflowExecution(&Decision{WorkflowName: "daily", DecisionID: "d", Scrapers: []string{"a", "b"}})
	w.SkippedScrapers = []string{"a"}

	se := NewScraperExecution("b")
	se.MarkSucceeded("", 0, nil)
	w.ScraperExecutions = []*ScraperExecution{se}
	w.Finalize()

	if !w.AllSucceeded() {
		t.Error("skipped plus succeeded should cover the request")
	}

	se.Status = ScraperStatusFailed
	w.Finalize()
	if w.AllSucceeded() {
		t.Error("failed scraper must break AllSucceeded")
	}
	if got := w.FailedScrapers(); len(got) != 1 || got[0] != "b" {
		t.Errorf("unexpected failed scrapers %v", got)
	}
}

func TestNewWorkflowExecution_CopiesRequest(t *testing.T) {
	d := &Decision{WorkflowName: "daily", DecisionID: "d", Scrapers: []string{"a", "b"}}
	w := NewWorkflowExecution(d)
	d.Scrapers[0] = "z"

	if w.ScrapersRequested[0] != "a" {
		t.Error("requested scrapers must not alias the decision")
	}
}

func TestLockRecord_CanBeTakenBy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &LockRecord{
		LockKey:     "workflow_daily",
		OperationID: "op-a",
		ExpiresAt:   now.Add(time.Minute),
	}

	if !(*LockRecord)(nil).CanBeTakenBy("op-b", now) {
		t.Error("absent lock must be available")
	}
	if rec.CanBeTakenBy("op-b", now) {
		t.Error("live lock of another operation must not be available")
	}
	if !rec.CanBeTakenBy("op-a", now) {
		t.Error("owner must be able to renew")
	}
	if !rec.CanBeTakenBy("op-b", now.Add(time.Minute)) {
		t.Error("lock is expired exactly at ExpiresAt")
	}
}
