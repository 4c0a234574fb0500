package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Harvest/internal/repo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListExecutions возвращает выполнения workflow.
// GET /api/v1/workflows/{name}/executions?decision_id=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.ExecutionFilter{
		Workflow:   r.PathValue("name"),
		DecisionID: q.Get("decision_id"),
		Limit:      defaultListLimit,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	executions, err := h.executions.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(executions))
	for i := range executions {
		result[i] = ExecutionFromDomain(&executions[i], false)
	}
	List(w, result, len(result))
}

// GetExecution возвращает выполнение с результатами scrapers.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	execution, err := h.executions.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(execution, true))
}
