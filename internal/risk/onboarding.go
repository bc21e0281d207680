package risk

import (
	"context"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/screening"
)

// Onboarder runs every check for a new subject in one call.
type Onboarder struct {
	screening *screening.Service
	risk      *Aggregator
}

// NewOnboarder creates an onboarder.
func NewOnboarder(s *screening.Service, a *Aggregator) *Onboarder {
	return &Onboarder{screening: s, risk: a}
}

// OnboardingResult is the outcome of Onboard.
type OnboardingResult struct {
	SubjectID string                    `json:"subjectId"`
	Matches   []*domain.ScreeningResult `json:"matches"`
	Cyber     *domain.CyberAssessment   `json:"cyber"`
	Fraud     *domain.FraudAssessment   `json:"fraud"`
	Profile   *domain.RiskProfile       `json:"profile"`
	Alerts    []string                  `json:"alerts"`
}

// Onboard screens the subject, assesses fraud from text (or from stored
// events when text is blank) and cyber from stored events, then updates
// the profile.
func (o *Onboarder) Onboard(ctx context.Context, subject *domain.SubjectRecord, text string) (*OnboardingResult, error) {
	matches, err := o.screening.Screen(ctx, subject)
	if err != nil {
		return nil, err
	}

	now := o.risk.now()
	id := subject.SubjectID

	cyber, err := o.risk.AssessCyber(ctx, id, now)
	if err != nil {
		return nil, err
	}

	var fraud *domain.FraudAssessment
	if strings.TrimSpace(text) != "" {
		fraud = o.risk.AssessText(id, text, now)
	} else if fraud, err = o.risk.AssessFraud(ctx, id, now); err != nil {
		return nil, err
	}

	profile, fired, err := o.risk.update(ctx, id, cyber, fraud, matches)
	if err != nil {
		return nil, err
	}

	alerts := make([]string, len(fired))
	for i, f := range fired {
		alerts[i] = f.RuleID
	}
	if matches == nil {
		matches = []*domain.ScreeningResult{}
	}

	return &OnboardingResult{
		SubjectID: id,
		Matches:   matches,
		Cyber:     cyber,
		Fraud:     fraud,
		Profile:   profile,
		Alerts:    alerts,
	}, nil
}
