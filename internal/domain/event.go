package domain

import (
	"strings"
	"time"
)

// Severity is the severity of a cyber event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity normalizes a severity string. Unknown values map to LOW.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Weight returns the severity weight used by the cyber risk assessment:
// 1.0 for HIGH and above, 0.5 otherwise.
func (s Severity) Weight() float64 {
	if s == SeverityHigh || s == SeverityCritical {
		return 1.0
	}
	return 0.5
}

// EventKind distinguishes the two event streams.
type EventKind string

const (
	EventCyber EventKind = "cyber"
	EventFraud EventKind = "fraud"
)

// CyberEvent is an append-only cyber-security signal about a subject.
type CyberEvent struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subjectId"`
	EventType  string    `json:"eventType"`
	Payload    string    `json:"payload"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detectedAt"`
	Source     string    `json:"source"`
	IOCs       []string  `json:"iocs,omitempty"`

	// RawIOCs is the structured IOC field as received (a JSON list).
	RawIOCs string `json:"rawIocs,omitempty"`
}

// Validate checks the fields required to store a cyber event.
func (e *CyberEvent) Validate() error {
	return validateEvent(e.ID, e.SubjectID, e.EventType, e.DetectedAt)
}

// FraudEvent is an append-only financial-fraud signal about a subject.
type FraudEvent struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subjectId"`
	EventType  string    `json:"eventType"`
	Payload    string    `json:"payload"`
	RiskScore  float64   `json:"riskScore"`
	Amount     float64   `json:"amount,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
	Source     string    `json:"source"`
	IOCs       []string  `json:"iocs,omitempty"`

	RawIOCs string `json:"rawIocs,omitempty"`
}

// Validate checks the fields required to store a fraud event.
func (e *FraudEvent) Validate() error {
	if err := validateEvent(e.ID, e.SubjectID, e.EventType, e.DetectedAt); err != nil {
		return err
	}
	if e.RiskScore < 0 || e.RiskScore > 1 {
		return &ValidationError{Field: "riskScore", Reason: "must be within [0,1]", RecordID: e.ID}
	}
	return nil
}

func validateEvent(id, subjectID, eventType string, detectedAt time.Time) error {
	if strings.TrimSpace(subjectID) == "" {
		return &ValidationError{Field: "subjectId", Reason: "is required", RecordID: id}
	}
	if strings.TrimSpace(eventType) == "" {
		return &ValidationError{Field: "eventType", Reason: "is required", RecordID: id}
	}
	if detectedAt.IsZero() {
		return &ValidationError{Field: "detectedAt", Reason: "is required", RecordID: id}
	}
	return nil
}

// IngestReport summarizes a batch ingestion. Rejected records do not abort
// the batch.
type IngestReport struct {
	Accepted int                `json:"accepted"`
	Rejected []*ValidationError `json:"rejected,omitempty"`
}
