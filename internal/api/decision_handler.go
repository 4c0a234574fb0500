package api

import (
	"encoding/json"
	"net/http"
)

// SubmitDecision принимает решение запустить workflow.
// POST /api/v1/workflows/{name}/decisions
func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	workflow := r.PathValue("name")
	if workflow == "" {
		BadRequest(w, "workflow name is required")
		return
	}

	var req SubmitDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	d := req.ToDomain(workflow)
	if err := h.submitter.Submit(r.Context(), d); HandleError(w, h.logger, err, "") {
		return
	}

	Accepted(w, DecisionAcceptedResponse{
		WorkflowName: d.WorkflowName,
		DecisionID:   d.DecisionID,
		Key:          d.Key(),
		Scrapers:     d.Scrapers,
	})
}
