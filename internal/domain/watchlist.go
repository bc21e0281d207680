package domain

import (
	"strings"
	"time"
)

// EntityType classifies a watchlist entry or subject.
type EntityType string

const (
	EntityIndividual EntityType = "individual"
	EntityEntity     EntityType = "entity"
)

// WatchlistEntry is a sanctioned or prohibited party from one list source.
// Entries are unique on (Source, Name, DateOfBirth); a missing date of birth
// participates in the key as the empty string.
type WatchlistEntry struct {
	Source      string     `json:"source"`
	EntityType  EntityType `json:"entityType"`
	Name        string     `json:"name"`
	Aliases     []string   `json:"aliases,omitempty"`
	DateOfBirth *string    `json:"dateOfBirth,omitempty"`
	Passport    *string    `json:"passport,omitempty"`
	Nationality *string    `json:"nationality,omitempty"`
	Address     *string    `json:"address,omitempty"`
	ListingDate time.Time  `json:"listingDate"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks the fields required to store an entry.
func (e *WatchlistEntry) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return &ValidationError{Field: "source", Reason: "is required", RecordID: e.Name}
	}
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required", RecordID: e.Source}
	}
	return nil
}

// DOBKey returns the date of birth as used in the uniqueness key.
func (e *WatchlistEntry) DOBKey() string {
	return Deref(e.DateOfBirth)
}

// SubjectRecord is an identity supplied by the caller for screening.
type SubjectRecord struct {
	SubjectID   string     `json:"subjectId"`
	Name        string     `json:"name"`
	Nationality *string    `json:"nationality,omitempty"`
	DateOfBirth *string    `json:"dateOfBirth,omitempty"`
	Type        EntityType `json:"type"`
}

// Validate checks the fields required to screen a subject.
func (s *SubjectRecord) Validate() error {
	if strings.TrimSpace(s.SubjectID) == "" {
		return &ValidationError{Field: "subjectId", Reason: "is required"}
	}
	return nil
}

// ScreeningResult records one admitted watchlist match for a subject.
// Every screening call produces independent results; they are never
// deduplicated against earlier screenings.
type ScreeningResult struct {
	ID            string         `json:"id"`
	SubjectID     string         `json:"subjectId"`
	MatchedEntry  WatchlistEntry `json:"matchedEntry"`
	MatchScore    float64        `json:"matchScore"`
	MatchedFields []string       `json:"matchedFields"`
	ScreenedAt    time.Time      `json:"screenedAt"`
}

// ScreeningStats summarizes the watchlist and recent screening activity.
type ScreeningStats struct {
	TotalEntries     int `json:"totalEntries"`
	Sources          int `json:"sources"`
	ScreeningsLast24 int `json:"screeningsLast24h"`
	MatchesLast24    int `json:"matchesLast24h"`
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
