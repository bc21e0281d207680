package screening

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/matcher"
)

// pruneSlack keeps pruning strictly conservative against score rounding.
const pruneSlack = 1e-6

type candidate struct {
	entry *domain.WatchlistEntry
	name  string
	hist  matcher.Histogram
}

// candidateIndex holds per-entry name data computed once per watchlist
// version.
type candidateIndex struct {
	version    uint64
	candidates []candidate
}

func buildIndex(version uint64, entries []*domain.WatchlistEntry) *candidateIndex {
	idx := &candidateIndex{version: version, candidates: make([]candidate, len(entries))}
	for i, e := range entries {
		name := matcher.Normalize(e.Name)
		idx.candidates[i] = candidate{entry: e, name: name, hist: matcher.NewHistogram(name)}
	}
	return idx
}

// query is the subject side of the bound.
type query struct {
	subject *domain.SubjectRecord
	name    string
	hist    matcher.Histogram
}

func newQuery(subject *domain.SubjectRecord) query {
	name := matcher.Normalize(subject.Name)
	return query{subject: subject, name: name, hist: matcher.NewHistogram(name)}
}

// upperBound is an upper bound on the match score of c. Nationality and
// birth year are exact and cheap, so only the name term is estimated.
func upperBound(w domain.MatchWeights, p query, c candidate) float64 {
	bound := 0.0
	if p.name != "" && c.name != "" {
		bound += w.Name * matcher.NameBound(p.hist, c.hist)
	}
	if matcher.NationalityMatch(p.subject.Nationality, c.entry.Nationality) {
		bound += w.Nationality
	}
	if matcher.BirthYearMatch(p.subject.DateOfBirth, c.entry.DateOfBirth) {
		bound += w.DOB
	}
	return bound
}

// prunable reports whether c provably cannot reach threshold.
func prunable(w domain.MatchWeights, threshold float64, p query, c candidate) bool {
	return upperBound(w, p, c) < threshold-pruneSlack
}
