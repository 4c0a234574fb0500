package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type openErr struct{ name string }

func (e openErr) Error() string       { return "circuit open: " + e.name }
func (e openErr) CircuitOpen() string { return e.name }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"http 409", &Failure{StatusCode: 409}, ClassContention},
		{"serialization message", errors.New("Could not serialize access to table due to concurrent update"), ClassContention},
		{"pg serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize"}, ClassContention},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, ClassContention},
		{"http 429", &Failure{StatusCode: 429}, ClassOverload},
		{"quota message", errors.New("Quota exceeded: too many concurrent queries"), ClassOverload},
		{"pg too many connections", &pgconn.PgError{Code: "53300"}, ClassOverload},
		{"http 500", &Failure{StatusCode: 500}, ClassTransientInfra},
		{"http 503", &Failure{StatusCode: 503}, ClassTransientInfra},
		{"http 504", &Failure{StatusCode: 504}, ClassTransientInfra},
		{"timeout kind", &Failure{Kind: KindTimeout}, ClassTransientInfra},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransientInfra},
		{"wrapped deadline", fmt.Errorf("call scraper: %w", context.DeadlineExceeded), ClassTransientInfra},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, ClassTransientInfra},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, ClassTransientInfra},
		{"http 404", &Failure{StatusCode: 404}, ClassFatal},
		{"http 400", &Failure{StatusCode: 400}, ClassFatal},
		{"scraper failed", &Failure{Kind: KindScraperFailed, Message: "bad input"}, ClassFatal},
		{"unknown", errors.New("boom"), ClassFatal},
		{"context canceled", context.Canceled, ClassFatal},
		{"circuit open", openErr{name: "prices"}, ClassCircuitOpen},
		{"wrapped circuit open", fmt.Errorf("dispatch: %w", openErr{name: "prices"}), ClassCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	// 409 + сообщение о квоте: contention проверяется первым.
	err := &Failure{StatusCode: 409, Message: "quota exceeded"}
	if got := Classify(err); got != ClassContention {
		t.Errorf("expected contention to win, got %q", got)
	}

	// 503 + сообщение о rate limit: overload раньше transient_infra.
	err = &Failure{StatusCode: 503, Message: "rate limit reached"}
	if got := Classify(err); got != ClassOverload {
		t.Errorf("expected overload to win, got %q", got)
	}
}

func TestNormalize_ExtractsResource(t *testing.T) {
	err := fmt.Errorf("persist: %w", &pgconn.PgError{Code: "40001", TableName: "scraper_executions"})

	f := Normalize(err)
	if f.Resource != "scraper_executions" {
		t.Errorf("expected resource from pg error, got %q", f.Resource)
	}
	if f.Kind != KindStorage {
		t.Errorf("expected storage kind, got %q", f.Kind)
	}

	f = Normalize(openErr{name: "prices"})
	if f.Resource != "prices" || f.Kind != KindCircuitOpen {
		t.Errorf("unexpected circuit open envelope: %+v", f)
	}
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Resource: "prices", StatusCode: 500, Message: "internal"}
	if got := f.Error(); got != "prices: HTTP 500: internal" {
		t.Errorf("unexpected message %q", got)
	}

	inner := errors.New("dial tcp: refused")
	f = &Failure{Kind: KindConnection, Err: inner}
	if !errors.Is(f, inner) {
		t.Error("Failure should unwrap to the original error")
	}
}
