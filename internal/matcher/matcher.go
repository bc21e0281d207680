// Package matcher scores a subject identity against a watchlist entry.
//
// The score is a weighted sum of three field similarities:
//
//	name         partial-ratio similarity of the lowercased, trimmed names
//	nationality  case-insensitive equality
//	dob          equality of the birth year (first four characters)
//
// A field missing on either side contributes 0 and weights are never
// renormalized, so a subject with fewer known fields can only score lower.
package matcher

import (
	"math"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Matched field names.
const (
	FieldName        = "name"
	FieldNationality = "nationality"
	FieldDOB         = "dob"
)

// Matcher scores subject/entry pairs with fixed weights.
type Matcher struct {
	weights       domain.MatchWeights
	nameThreshold float64
}

// New creates a Matcher. nameThreshold is the name similarity above which
// "name" is reported as a matched field.
func New(weights domain.MatchWeights, nameThreshold float64) *Matcher {
	return &Matcher{weights: weights, nameThreshold: nameThreshold}
}

// Weights returns the configured weights.
func (m *Matcher) Weights() domain.MatchWeights {
	return m.weights
}

// Result is the outcome of scoring one pair.
type Result struct {
	Score          float64
	NameSimilarity float64
	MatchedFields  []string
}

// Score compares a subject with an entry. It never fails: missing fields
// score 0.
func (m *Matcher) Score(subject *domain.SubjectRecord, entry *domain.WatchlistEntry) Result {
	var res Result

	sName, eName := Normalize(subject.Name), Normalize(entry.Name)
	if sName != "" && eName != "" {
		res.NameSimilarity = PartialRatio(sName, eName)
		res.Score += m.weights.Name * res.NameSimilarity
		if res.NameSimilarity > m.nameThreshold {
			res.MatchedFields = append(res.MatchedFields, FieldName)
		}
	}

	if NationalityMatch(subject.Nationality, entry.Nationality) {
		res.Score += m.weights.Nationality
		res.MatchedFields = append(res.MatchedFields, FieldNationality)
	}

	if BirthYearMatch(subject.DateOfBirth, entry.DateOfBirth) {
		res.Score += m.weights.DOB
		res.MatchedFields = append(res.MatchedFields, FieldDOB)
	}

	// Round away float noise so exact threshold hits stay admitted.
	res.Score = math.Min(math.Round(res.Score*1e6)/1e6, 1)
	return res
}

// Normalize lowercases and trims a name.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NationalityMatch reports case-insensitive equality of two present values.
func NationalityMatch(a, b *string) bool {
	x, y := strings.TrimSpace(domain.Deref(a)), strings.TrimSpace(domain.Deref(b))
	if x == "" || y == "" {
		return false
	}
	return strings.EqualFold(x, y)
}

// BirthYearMatch compares the first four characters of two dates when both
// have at least four.
func BirthYearMatch(a, b *string) bool {
	x, y := strings.TrimSpace(domain.Deref(a)), strings.TrimSpace(domain.Deref(b))
	if len(x) < 4 || len(y) < 4 {
		return false
	}
	return x[:4] == y[:4]
}
