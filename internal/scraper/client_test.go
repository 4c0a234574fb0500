package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/Harvest/internal/retry"
)

// newHangingServer возвращает сервер, который не отвечает, пока клиент
// не отключится. Cleanup освобождает зависшие обработчики до Close.
func newHangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// без чтения тела net/http не замечает отключение клиента
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	t.Cleanup(func() {
		close(done)
		server.CloseClientConnections()
		server.Close()
	})
	return server
}

// --- Invoke Tests ---

func TestInvoke_Success(t *testing.T) {
	var received Request
	var receivedPath, receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		receivedPath = r.URL.Path
		receivedAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)

		json.NewEncoder(w).Encode(Response{
			ExecutionID: "exec-1",
			Status:      StatusSuccess,
			RecordCount: 120,
			DataSummary: map[string]any{"rows": 120},
		})
	}))
	defer server.Close()

	client := New(Config{
		BaseURL: server.URL + "/",
		Headers: map[string]string{"Authorization": "Bearer token"},
	})

	resp, err := client.Invoke(context.Background(), Request{
		ScraperName:  "prices",
		Parameters:   map[string]any{"date": "2026-01-01"},
		WorkflowName: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPath != "/scrapers/prices" {
		t.Errorf("unexpected path %q", receivedPath)
	}
	if receivedAuth != "Bearer token" {
		t.Errorf("expected custom header, got %q", receivedAuth)
	}
	if received.ScraperName != "prices" || received.WorkflowName != "daily" {
		t.Errorf("unexpected request body: %+v", received)
	}
	if received.Parameters["date"] != "2026-01-01" {
		t.Errorf("parameters not sent: %v", received.Parameters)
	}

	if resp.ExecutionID != "exec-1" || resp.RecordCount != 120 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestInvoke_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   retry.Class
	}{
		{http.StatusInternalServerError, `{"error": "internal"}`, retry.ClassTransientInfra},
		{http.StatusServiceUnavailable, `unavailable`, retry.ClassTransientInfra},
		{http.StatusTooManyRequests, `{"error_message": "slow down"}`, retry.ClassOverload},
		{http.StatusConflict, `{}`, retry.ClassContention},
		{http.StatusNotFound, `no such scraper`, retry.ClassFatal},
		{http.StatusBadRequest, `{"error": "bad params"}`, retry.ClassFatal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(Config{BaseURL: server.URL}).Invoke(context.Background(), Request{ScraperName: "prices"})

			var f *retry.Failure
			if !errors.As(err, &f) {
				t.Fatalf("expected *retry.Failure, got %v", err)
			}
			if f.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, f.StatusCode)
			}
			if f.Resource != "prices" {
				t.Errorf("expected resource prices, got %q", f.Resource)
			}
			if got := retry.Classify(err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvoke_ErrorMessageFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_message": "date is required"}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).Invoke(context.Background(), Request{ScraperName: "prices"})

	var f *retry.Failure
	if !errors.As(err, &f) || f.Message != "date is required" {
		t.Errorf("expected message from body, got %v", err)
	}
}

func TestInvoke_ScraperReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Response{
			ExecutionID:  "exec-2",
			Status:       StatusFailed,
			ErrorMessage: "source returned empty page",
		})
	}))
	defer server.Close()

	resp, err := New(Config{BaseURL: server.URL}).Invoke(context.Background(), Request{ScraperName: "prices"})

	if retry.Classify(err) != retry.ClassFatal {
		t.Fatalf("expected fatal failure, got %v", err)
	}
	if resp == nil || resp.ExecutionID != "exec-2" {
		t.Error("response should be returned together with the failure")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	server := newHangingServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: server.URL}).Invoke(ctx, Request{ScraperName: "prices"})

	var f *retry.Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *retry.Failure, got %v", err)
	}
	if f.Kind != retry.KindTimeout {
		t.Errorf("expected timeout kind, got %q", f.Kind)
	}
	if retry.Classify(err) != retry.ClassTransientInfra {
		t.Errorf("timeout should be transient_infra, got %q", retry.Classify(err))
	}
}

func TestInvoke_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(Config{BaseURL: url}).Invoke(context.Background(), Request{ScraperName: "prices"})

	if retry.Classify(err) != retry.ClassTransientInfra {
		t.Errorf("connection error should be transient_infra, got %v", err)
	}
}

func TestInvoke_CanceledByCaller(t *testing.T) {
	server := newHangingServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := New(Config{BaseURL: server.URL}).Invoke(ctx, Request{ScraperName: "prices"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if retry.Classify(err) != retry.ClassFatal {
		t.Error("caller cancellation must not be retried")
	}
}

func TestInvoke_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).Invoke(context.Background(), Request{ScraperName: "prices"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestInvoke_MissingName(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost"}).Invoke(context.Background(), Request{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
