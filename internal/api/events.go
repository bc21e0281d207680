package api

import (
	"net/http"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
)

// IngestCyber handles POST /events/cyber.
func (h *Handler) IngestCyber(w http.ResponseWriter, r *http.Request) {
	var ev domain.CyberEvent
	if !decode(w, r, &ev) {
		return
	}
	stored, err := h.svc.Events.IngestCyber(r.Context(), &ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// IngestFraud handles POST /events/fraud.
func (h *Handler) IngestFraud(w http.ResponseWriter, r *http.Request) {
	var ev domain.FraudEvent
	if !decode(w, r, &ev) {
		return
	}
	stored, err := h.svc.Events.IngestFraud(r.Context(), &ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// IngestBatch handles POST /events/batch. Invalid events are reported in
// the response and do not fail the request.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch events.Batch
	if !decode(w, r, &batch) {
		return
	}
	report, err := h.svc.Events.IngestBatch(r.Context(), batch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
