package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func defaultMatcher() *Matcher {
	return New(domain.MatchWeights{Name: 0.6, Nationality: 0.2, DOB: 0.2}, 0.8)
}

func TestPartialRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "john smith", "john smith", 1},
		{"substring", "smith", "john smith", 1},
		{"substring reversed", "john smith", "smith", 1},
		{"disjoint", "abc", "xyz", 0},
		{"empty", "", "john", 0},
		{"both empty", "", "", 0},
		{"one edit in window", "jon", "john", 2.0 / 3.0},
		{"unicode", "müller", "hans müller", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PartialRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestPartialRatioBestWindow(t *testing.T) {
	// "abcd" aligned at offset 2 of "xxabcxx" keeps a, b, c.
	assert.InDelta(t, 0.75, PartialRatio("abcd", "xxabcxx"), 1e-9)
}

func TestNameBound(t *testing.T) {
	pairs := [][2]string{
		{"john smith", "jon smyth"},
		{"ali reza", "alireza mohammadi"},
		{"kim chol", "chol kim"},
		{"abc", "xyz"},
		{"maria", "mariam al-sayed"},
	}

	for _, p := range pairs {
		t.Run(p[0]+"/"+p[1], func(t *testing.T) {
			bound := NameBound(NewHistogram(p[0]), NewHistogram(p[1]))
			assert.GreaterOrEqual(t, bound+1e-12, PartialRatio(p[0], p[1]))
			assert.LessOrEqual(t, bound, 1.0)
		})
	}

	assert.Equal(t, 0.0, NameBound(NewHistogram(""), NewHistogram("abc")))
}

func TestScore(t *testing.T) {
	m := defaultMatcher()

	entry := &domain.WatchlistEntry{
		Source:      "UN",
		Name:        "Kim Chol",
		Nationality: domain.StringPtr("KP"),
		DateOfBirth: domain.StringPtr("1960-05-05"),
	}

	t.Run("all fields identical", func(t *testing.T) {
		subject := &domain.SubjectRecord{
			SubjectID:   "S1",
			Name:        "  KIM CHOL ",
			Nationality: domain.StringPtr("kp"),
			DateOfBirth: domain.StringPtr("1960-12-31"),
		}
		res := m.Score(subject, entry)
		assert.Equal(t, 1.0, res.Score)
		assert.Equal(t, []string{FieldName, FieldNationality, FieldDOB}, res.MatchedFields)
	})

	t.Run("no shared field", func(t *testing.T) {
		subject := &domain.SubjectRecord{
			SubjectID:   "S2",
			Name:        "xyz",
			Nationality: domain.StringPtr("FR"),
			DateOfBirth: domain.StringPtr("1999-01-01"),
		}
		res := m.Score(subject, entry)
		assert.Equal(t, 0.0, res.Score)
		assert.Empty(t, res.MatchedFields)
	})

	t.Run("all fields missing", func(t *testing.T) {
		res := m.Score(&domain.SubjectRecord{SubjectID: "S3"}, &domain.WatchlistEntry{Source: "UN"})
		assert.Equal(t, 0.0, res.Score)
		assert.Empty(t, res.MatchedFields)
	})

	t.Run("name and nationality reach admission", func(t *testing.T) {
		subject := &domain.SubjectRecord{SubjectID: "S4", Name: "Kim Chol", Nationality: domain.StringPtr("KP")}
		res := m.Score(subject, entry)
		assert.GreaterOrEqual(t, res.Score, 0.8)
		assert.Equal(t, []string{FieldName, FieldNationality}, res.MatchedFields)
	})

	t.Run("short dob never matches", func(t *testing.T) {
		subject := &domain.SubjectRecord{SubjectID: "S5", DateOfBirth: domain.StringPtr("196")}
		res := m.Score(subject, entry)
		assert.NotContains(t, res.MatchedFields, FieldDOB)
	})

	t.Run("name below field threshold adds score only", func(t *testing.T) {
		subject := &domain.SubjectRecord{SubjectID: "S6", Name: "Kim Sun"}
		res := m.Score(subject, entry)
		assert.Greater(t, res.Score, 0.0)
		assert.NotContains(t, res.MatchedFields, FieldName)
	})
}

func TestScoreMonotonic(t *testing.T) {
	m := defaultMatcher()
	entry := &domain.WatchlistEntry{
		Source:      "OFAC",
		Name:        "Ivan Petrov",
		Nationality: domain.StringPtr("RU"),
		DateOfBirth: domain.StringPtr("1975-02-02"),
	}

	steps := []*domain.SubjectRecord{
		{SubjectID: "S", Name: "Ivan Petrov"},
		{SubjectID: "S", Name: "Ivan Petrov", Nationality: domain.StringPtr("RU")},
		{SubjectID: "S", Name: "Ivan Petrov", Nationality: domain.StringPtr("RU"), DateOfBirth: domain.StringPtr("1975")},
	}

	prev := -1.0
	for i, s := range steps {
		score := m.Score(s, entry).Score
		require.GreaterOrEqual(t, score, prev, "step %d", i)
		prev = score
	}
	assert.Equal(t, 1.0, prev)
}
