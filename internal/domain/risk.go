package domain

import "time"

// RiskLevel is the tier assigned to a risk profile.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Level thresholds on the 0-100 scale.
const (
	HighRiskThreshold   = 70.0
	MediumRiskThreshold = 40.0
)

// LevelFor maps a 0-100 score onto a risk level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskHigh
	case score >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskProfile is the composite risk view of one subject. It is always
// replaced as a whole; CompositeRiskScore is recomputed from the
// constituent scores on every update.
type RiskProfile struct {
	SubjectID          string    `json:"subjectId"`
	CyberRiskScore     float64   `json:"cyberRiskScore"`
	FraudRiskScore     float64   `json:"fraudRiskScore"`
	ScreeningScore     float64   `json:"screeningScore"`
	CompositeRiskScore float64   `json:"compositeRiskScore"`
	RiskLevel          RiskLevel `json:"riskLevel"`
	LastUpdated        time.Time `json:"lastUpdated"`
	Factors            []string  `json:"factors"`
}

// CyberAssessment is the cyber signal for a subject over the lookback period.
type CyberAssessment struct {
	SubjectID         string    `json:"subjectId"`
	Score             float64   `json:"score"`
	EventCount        int       `json:"eventCount"`
	AvgSeverityWeight float64   `json:"avgSeverityWeight"`
	Level             RiskLevel `json:"level"`
	Factors           []string  `json:"factors"`
	AssessedAt        time.Time `json:"assessedAt"`
}

// FraudAssessment is the fraud signal derived from detected patterns.
type FraudAssessment struct {
	SubjectID  string             `json:"subjectId"`
	Score      float64            `json:"score"`
	Patterns   []PatternDetection `json:"patterns"`
	AssessedAt time.Time          `json:"assessedAt"`
}

// PatternDetection is one fraud pattern found in free text.
type PatternDetection struct {
	Pattern          string   `json:"pattern"`
	Keywords         []string `json:"keywords"`
	RiskLevel        string   `json:"riskLevel"`
	Scenario         string   `json:"scenario"`
	Description      string   `json:"description"`
	Confidence       float64  `json:"confidence"`
	FinancialContext bool     `json:"financialContext"`
}
