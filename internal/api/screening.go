package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
)

// UpsertWatchlist handles POST /watchlists.
func (h *Handler) UpsertWatchlist(w http.ResponseWriter, r *http.Request) {
	var entries []*domain.WatchlistEntry
	if !decode(w, r, &entries) {
		return
	}
	report, err := h.svc.Watchlist.Upsert(r.Context(), entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ReplaceWatchlistSource handles PUT /watchlists/{source}.
func (h *Handler) ReplaceWatchlistSource(w http.ResponseWriter, r *http.Request) {
	var entries []*domain.WatchlistEntry
	if !decode(w, r, &entries) {
		return
	}
	report, err := h.svc.Watchlist.ReplaceSource(r.Context(), chi.URLParam(r, "source"), entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ScreeningStats handles GET /watchlists/stats.
func (h *Handler) ScreeningStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Screening.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ScreenResponse is the response for POST /screenings.
type ScreenResponse struct {
	SubjectID string                    `json:"subjectId"`
	Results   []*domain.ScreeningResult `json:"results"`
}

// Screen handles POST /screenings.
func (h *Handler) Screen(w http.ResponseWriter, r *http.Request) {
	var subject domain.SubjectRecord
	if !decode(w, r, &subject) {
		return
	}
	results, err := h.svc.Screening.Screen(r.Context(), &subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []*domain.ScreeningResult{}
	}
	writeJSON(w, http.StatusOK, ScreenResponse{SubjectID: subject.SubjectID, Results: results})
}

// ScreenBatch handles POST /screenings/batch.
func (h *Handler) ScreenBatch(w http.ResponseWriter, r *http.Request) {
	var subjects []*domain.SubjectRecord
	if !decode(w, r, &subjects) {
		return
	}
	report, err := h.svc.Screening.ScreenBatch(r.Context(), subjects)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ScreeningHistory handles GET /subjects/{id}/screenings.
func (h *Handler) ScreeningHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.svc.Screening.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []*domain.ScreeningResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// PurgeScreenings handles DELETE /screenings?olderThanDays=N. Without the
// parameter the configured retention applies.
func (h *Handler) PurgeScreenings(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "olderThanDays", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deleted, err := h.svc.Screening.Purge(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
