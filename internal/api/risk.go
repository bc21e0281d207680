package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ioc"
)

// RefreshRisk handles POST /subjects/{id}/risk.
func (h *Handler) RefreshRisk(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Risk.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetRisk handles GET /subjects/{id}/risk.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Risk.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// OnboardRequest is the request body for POST /onboarding.
type OnboardRequest struct {
	Subject *domain.SubjectRecord `json:"subject"`
	Text    string                `json:"text,omitempty"`
}

// Onboard handles POST /onboarding.
func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req OnboardRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Onboarder.Onboard(r.Context(), req.Subject, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AnalyzeRequest is the request body for POST /patterns/analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// AnalyzeResponse reports the fraud patterns and typed indicators in a text.
type AnalyzeResponse struct {
	Patterns   []domain.PatternDetection `json:"patterns"`
	RiskScore  float64                   `json:"riskScore"`
	Indicators ioc.Indicators            `json:"indicators"`
}

// AnalyzePatterns handles POST /patterns/analyze.
func (h *Handler) AnalyzePatterns(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		h.writeError(w, r, &domain.ValidationError{Field: "text", Reason: "is required"})
		return
	}

	fraud := h.svc.Risk.AssessText("", req.Text, time.Now().UTC())
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Patterns:   fraud.Patterns,
		RiskScore:  fraud.Score,
		Indicators: ioc.ExtractTyped(req.Text),
	})
}

// ListAlertRules handles GET /alerts/rules.
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	if h.svc.Alerts == nil {
		writeJSON(w, http.StatusOK, []domain.AlertRuleConfig{})
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Alerts.LoadedRules())
}
