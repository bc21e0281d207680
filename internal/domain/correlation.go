package domain

import "time"

// CorrelationKind identifies the strategy that produced a correlation.
type CorrelationKind string

const (
	KindTemporal   CorrelationKind = "TEMPORAL"
	KindBehavioral CorrelationKind = "BEHAVIORAL"
	KindIOC        CorrelationKind = "IOC"
)

// CorrelationStatus is owned by case management; this service only writes NEW.
type CorrelationStatus string

const (
	StatusNew      CorrelationStatus = "NEW"
	StatusReviewed CorrelationStatus = "REVIEWED"
	StatusClosed   CorrelationStatus = "CLOSED"
)

// Correlation links cyber and fraud signals with a confidence score.
// BEHAVIORAL correlations carry no event references.
type Correlation struct {
	ID             string            `json:"id"`
	Kind           CorrelationKind   `json:"kind"`
	CyberEventRef  *string           `json:"cyberEventRef,omitempty"`
	FraudEventRef  *string           `json:"fraudEventRef,omitempty"`
	SubjectID      string            `json:"subjectId"`
	Confidence     float64           `json:"confidence"`
	Factors        []string          `json:"factors"`
	SharedIOCs     []string          `json:"sharedIocs,omitempty"`
	TimeDeltaHours *float64          `json:"timeDeltaHours,omitempty"`
	Recommendation string            `json:"recommendation"`
	CreatedAt      time.Time         `json:"createdAt"`
	Status         CorrelationStatus `json:"status"`
}

// CorrelationKindStats aggregates correlations of one kind.
type CorrelationKindStats struct {
	Kind          CorrelationKind `json:"kind"`
	Count         int             `json:"count"`
	AvgConfidence float64         `json:"avgConfidence"`
}

// CorrelationReport summarizes correlations over a reporting period.
type CorrelationReport struct {
	PeriodDays          int                    `json:"periodDays"`
	GeneratedAt         time.Time              `json:"generatedAt"`
	Statistics          []CorrelationKindStats `json:"statistics"`
	HighConfidence      []*Correlation         `json:"highConfidence"`
	TotalCorrelations   int                    `json:"totalCorrelations"`
	HighConfidenceCount int                    `json:"highConfidenceCount"`
}
