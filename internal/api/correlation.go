package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RunCorrelation handles POST /correlations/run. With ?async=true the pass
// is requested over the event bus for the worker and 202 is returned.
func (h *Handler) RunCorrelation(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if h.svc.Bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event bus not configured"})
			return
		}
		payload, _ := json.Marshal(map[string]string{"requestedBy": "api"})
		if err := h.svc.Bus.Publish(r.Context(), domain.TopicCorrelationRequested, payload); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
		return
	}

	result, err := h.svc.Correlation.Run(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CorrelationReport handles GET /correlations/report?days=N.
func (h *Handler) CorrelationReport(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.svc.Correlation.Report(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CorrelationHistory handles GET /subjects/{id}/correlations.
func (h *Handler) CorrelationHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.Correlation.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []*domain.Correlation{}
	}
	writeJSON(w, http.StatusOK, out)
}
