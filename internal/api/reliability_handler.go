package api

import (
	"net/http"
	"time"
)

var startTime = time.Now()

// ListBreakers возвращает состояние всех circuit breakers.
// GET /api/v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	snapshots := h.breakers.Snapshots()

	resp := BreakersResponse{
		Enabled:  h.breakers.IsEnabled(),
		Breakers: make([]BreakerResponse, len(snapshots)),
	}
	for i, s := range snapshots {
		resp.Breakers[i] = BreakerFromSnapshot(s)
	}
	Success(w, resp)
}

// ResetBreaker возвращает breaker ресурса в CLOSED.
// POST /api/v1/breakers/{name}/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.breakers.Reset(name); HandleError(w, h.logger, err, "breaker not found") {
		return
	}

	b, _ := h.breakers.Lookup(name)
	h.logger.Warn("breaker reset via api", "resource", name)
	Success(w, BreakerFromSnapshot(b.Snapshot()))
}

// ReleaseLock принудительно освобождает блокировку решения.
// DELETE /api/v1/locks/{business_key}
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	businessKey := r.PathValue("business_key")

	released, err := h.locker.ForceRelease(r.Context(), businessKey)
	if HandleError(w, h.logger, err, "") {
		return
	}
	if !released {
		NotFound(w, "lock not found")
		return
	}

	Success(w, LockReleaseResponse{
		LockKey:  h.locker.Key(businessKey),
		Released: true,
	})
}

// Health отвечает на /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(startTime).Round(time.Second).String(),
	}
	if h.submitter != nil {
		resp.ActiveDecisions = h.submitter.ActiveDecisions()
	}
	JSON(w, http.StatusOK, resp)
}
