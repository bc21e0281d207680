package correlation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ioc"
)

// Recommendations attached to each kind.
const (
	RecommendTemporal   = "Review subject transactions during this period"
	RecommendBehavioral = "Conduct comprehensive subject risk review"
	RecommendIOC        = "Investigate shared IOCs for campaign identification"
)

// Correlator is one correlation strategy over a window snapshot. Results
// carry kind, references, subject, confidence, factors and recommendation;
// the engine stamps identity, time and status.
type Correlator interface {
	Kind() domain.CorrelationKind
	Correlate(ctx context.Context, snap *Snapshot) []*domain.Correlation
}

// Snapshot is the read-only input of one pass: both streams over the
// window, grouped by subject, plus IOC lookups.
type Snapshot struct {
	Cyber []*domain.CyberEvent
	Fraud []*domain.FraudEvent

	// Subjects lists every subject with an event in the window, sorted.
	Subjects       []string
	CyberBySubject map[string][]*domain.CyberEvent
	FraudBySubject map[string][]*domain.FraudEvent

	CyberIOCs func(*domain.CyberEvent) []string
	FraudIOCs func(*domain.FraudEvent) []string
}

// NewSnapshot groups the events by subject. Event order within a group
// follows the input order.
func NewSnapshot(cyber []*domain.CyberEvent, fraud []*domain.FraudEvent, cyberIOCs func(*domain.CyberEvent) []string, fraudIOCs func(*domain.FraudEvent) []string) *Snapshot {
	s := &Snapshot{
		Cyber:          cyber,
		Fraud:          fraud,
		CyberBySubject: make(map[string][]*domain.CyberEvent),
		FraudBySubject: make(map[string][]*domain.FraudEvent),
		CyberIOCs:      cyberIOCs,
		FraudIOCs:      fraudIOCs,
	}

	seen := make(map[string]struct{})
	for _, ev := range cyber {
		s.CyberBySubject[ev.SubjectID] = append(s.CyberBySubject[ev.SubjectID], ev)
		seen[ev.SubjectID] = struct{}{}
	}
	for _, ev := range fraud {
		s.FraudBySubject[ev.SubjectID] = append(s.FraudBySubject[ev.SubjectID], ev)
		seen[ev.SubjectID] = struct{}{}
	}

	s.Subjects = make([]string, 0, len(seen))
	for id := range seen {
		s.Subjects = append(s.Subjects, id)
	}
	sort.Strings(s.Subjects)

	if s.CyberIOCs == nil {
		s.CyberIOCs = func(ev *domain.CyberEvent) []string { return extracted(ev.Payload, ev.RawIOCs) }
	}
	if s.FraudIOCs == nil {
		s.FraudIOCs = func(ev *domain.FraudEvent) []string { return extracted(ev.Payload, ev.RawIOCs) }
	}
	return s
}

func extracted(payload, raw string) []string {
	values, _ := ioc.Extract(payload, raw)
	return values
}

// Temporal links a subject's cyber and fraud events that occurred close
// together. Confidence falls linearly from 0.8 at zero gap and is floored
// at 0.3.
type Temporal struct {
	MaxHours float64
}

func (Temporal) Kind() domain.CorrelationKind { return domain.KindTemporal }

func (t Temporal) Correlate(ctx context.Context, snap *Snapshot) []*domain.Correlation {
	var out []*domain.Correlation

	for _, subject := range snap.Subjects {
		for _, c := range snap.CyberBySubject[subject] {
			if c.DetectedAt.IsZero() {
				continue
			}
			for _, f := range snap.FraudBySubject[subject] {
				if f.DetectedAt.IsZero() {
					continue
				}

				gap := f.DetectedAt.Sub(c.DetectedAt).Hours()
				order := "after"
				if gap < 0 {
					order = "before"
				}
				delta := math.Abs(gap)
				if delta > t.MaxHours {
					continue
				}

				rounded := round2(delta)
				out = append(out, &domain.Correlation{
					Kind:          domain.KindTemporal,
					CyberEventRef: ref(c.ID),
					FraudEventRef: ref(f.ID),
					SubjectID:     subject,
					Confidence:    TemporalConfidence(delta),
					Factors: []string{
						fmt.Sprintf("Fraud event occurred %.1f hours %s cyber event", delta, order),
						"Cyber event type: " + c.EventType,
						"Fraud event type: " + f.EventType,
					},
					TimeDeltaHours: &rounded,
					Recommendation: RecommendTemporal,
				})
			}
		}
	}
	return out
}

// TemporalConfidence is the confidence of a temporal link with the given
// gap in hours.
func TemporalConfidence(deltaHours float64) float64 {
	return round2(math.Max(0.8-deltaHours/48, 0.3))
}

// BehavioralConfidence is the confidence for a subject with c cyber and f
// fraud events.
func BehavioralConfidence(c, f int) float64 {
	return round2(math.Min(0.3+float64(c*f)*0.1, 0.9))
}

// IOCConfidence is the confidence for n shared indicators.
func IOCConfidence(n int) float64 {
	return round2(math.Min(0.5+float64(n)*0.2, 0.9))
}

// Behavioral emits one correlation per subject active in both streams.
// Confidence grows with the product of the two counts and is capped at 0.9.
type Behavioral struct{}

func (Behavioral) Kind() domain.CorrelationKind { return domain.KindBehavioral }

func (Behavioral) Correlate(ctx context.Context, snap *Snapshot) []*domain.Correlation {
	var out []*domain.Correlation

	for _, subject := range snap.Subjects {
		c, f := len(snap.CyberBySubject[subject]), len(snap.FraudBySubject[subject])
		if c == 0 || f == 0 {
			continue
		}
		out = append(out, &domain.Correlation{
			Kind:       domain.KindBehavioral,
			SubjectID:  subject,
			Confidence: BehavioralConfidence(c, f),
			Factors: []string{
				fmt.Sprintf("Multiple cyber events (%d) and fraud events (%d)", c, f),
				"Pattern suggests potential account compromise",
				"Subject exhibits high-risk behavior across domains",
			},
			Recommendation: RecommendBehavioral,
		})
	}
	return out
}

// IOC links any cyber and fraud events in the window that share an
// indicator, across subjects. The correlation is attributed to the cyber
// event's subject.
type IOC struct{}

func (IOC) Kind() domain.CorrelationKind { return domain.KindIOC }

func (IOC) Correlate(ctx context.Context, snap *Snapshot) []*domain.Correlation {
	fraudIOCs := make([][]string, len(snap.Fraud))
	for i, f := range snap.Fraud {
		fraudIOCs[i] = snap.FraudIOCs(f)
	}

	var out []*domain.Correlation
	for _, c := range snap.Cyber {
		cyberIOCs := snap.CyberIOCs(c)
		if len(cyberIOCs) == 0 {
			continue
		}
		for i, f := range snap.Fraud {
			shared := ioc.Intersect(cyberIOCs, fraudIOCs[i])
			if len(shared) == 0 {
				continue
			}
			out = append(out, &domain.Correlation{
				Kind:          domain.KindIOC,
				CyberEventRef: ref(c.ID),
				FraudEventRef: ref(f.ID),
				SubjectID:     c.SubjectID,
				Confidence:    IOCConfidence(len(shared)),
				Factors: []string{
					fmt.Sprintf("Shared IOCs: %d common indicators", len(shared)),
					"Cyber event: " + c.EventType,
					"Fraud event: " + f.EventType,
				},
				SharedIOCs:     shared,
				Recommendation: RecommendIOC,
			})
		}
	}
	return out
}

func ref(id string) *string {
	return &id
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
