package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует маршруты API, /healthz и /metrics.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Decisions и executions
	mux.Handle("POST /api/v1/workflows/{name}/decisions", chain(http.HandlerFunc(h.SubmitDecision)))
	mux.Handle("GET /api/v1/workflows/{name}/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))

	// Circuit breakers
	mux.Handle("GET /api/v1/breakers", chain(http.HandlerFunc(h.ListBreakers)))
	mux.Handle("POST /api/v1/breakers/{name}/reset", chain(http.HandlerFunc(h.ResetBreaker)))

	// Locks
	mux.Handle("DELETE /api/v1/locks/{business_key}", chain(http.HandlerFunc(h.ReleaseLock)))

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
}
