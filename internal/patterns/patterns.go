// Package patterns detects fraud patterns in free text by keyword.
package patterns

import (
	"math"
	"regexp"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Pattern is a named group of keywords that indicate one fraud scenario.
type Pattern struct {
	Name        string
	Keywords    []string
	Scenario    string
	RiskLevel   string
	Description string

	// Boost is added to the confidence of every detection of this pattern.
	Boost float64
}

// Builtin is the default pattern catalogue.
var Builtin = []Pattern{
	{
		Name:        "account_takeover",
		Keywords:    []string{"credential stuffing", "session hijacking", "sim swap", "account takeover", "ato", "password spray", "mfa bypass", "session cookie", "token theft"},
		Scenario:    "5.1.1",
		RiskLevel:   "High",
		Description: "Unauthorized account access leading to fraudulent transactions",
		Boost:       0.1,
	},
	{
		Name:        "social_engineering",
		Keywords:    []string{"phishing", "vishing", "business email compromise", "bec", "impersonation", "social engineering", "ceo fraud", "invoice fraud", "romance scam"},
		Scenario:    "5.1.17",
		RiskLevel:   "High",
		Description: "Manipulation techniques to trick victims into authorizing transactions",
	},
	{
		Name:        "malware_fraud",
		Keywords:    []string{"banking trojan", "keylogger", "ransomware", "malware", "botnet", "info stealer", "remote access trojan", "rat", "spyware", "formgrabber"},
		Scenario:    "5.1.12",
		RiskLevel:   "High",
		Description: "Malicious software designed to steal financial credentials or data",
		Boost:       0.1,
	},
	{
		Name:        "insider_threat",
		Keywords:    []string{"insider threat", "privilege abuse", "data exfiltration", "employee fraud", "internal threat", "rogue employee", "privilege escalation"},
		Scenario:    "5.1.5",
		RiskLevel:   "Medium",
		Description: "Fraudulent activities conducted by authorized internal users",
	},
	{
		Name:        "money_laundering",
		Keywords:    []string{"money laundering", "structuring", "smurfing", "mule account", "layering", "placement", "integration", "suspicious transaction"},
		Scenario:    "4.4.13",
		RiskLevel:   "High",
		Description: "Methods to conceal the origin of illegally obtained funds",
		Boost:       0.15,
	},
	{
		Name:        "api_abuse",
		Keywords:    []string{"api abuse", "credential stuffing", "rate limiting", "api security", "endpoint abuse", "api scraping", "automated attack"},
		Scenario:    "5.1.12",
		RiskLevel:   "Medium",
		Description: "Exploitation of banking APIs for fraudulent activities",
	},
	{
		Name:        "synthetic_fraud",
		Keywords:    []string{"synthetic identity", "fake identity", "fabricated identity", "identity fraud", "new account fraud"},
		Scenario:    "5.1.17",
		RiskLevel:   "High",
		Description: "Creation of fake identities to open fraudulent accounts",
	},
	{
		Name:        "authorized_push_payment",
		Keywords:    []string{"authorized push payment", "app fraud", "authorized fraud", "real-time fraud", "instant payment fraud"},
		Scenario:    "5.1.1",
		RiskLevel:   "High",
		Description: "Victims are tricked into authorizing fraudulent payments",
	},
}

// FinancialKeywords mark text as having financial context.
var FinancialKeywords = []string{"bank", "payment", "financial", "transaction", "card", "transfer", "account", "fund", "wire", "ach", "pos", "atm"}

// highConfidenceTerms raise confidence whenever they appear anywhere in the text.
var highConfidenceTerms = []struct {
	term  string
	boost float64
}{
	{"zero-day", 0.3},
	{"exploit", 0.2},
	{"active attack", 0.25},
	{"campaign", 0.15},
	{"breach", 0.2},
	{"data leak", 0.15},
}

const (
	baseConfidence  = 0.3
	perKeyword      = 0.2
	maxKeywordBoost = 0.4
	financialBoost  = 0.2
	maxConfidence   = 1.0
)

type compiledPattern struct {
	Pattern
	keywords []*regexp.Regexp
}

// Detector matches text against a pattern catalogue.
type Detector struct {
	patterns  []compiledPattern
	financial []*regexp.Regexp
}

// NewDetector compiles the given patterns. Nil uses Builtin.
func NewDetector(catalogue []Pattern) *Detector {
	if catalogue == nil {
		catalogue = Builtin
	}

	d := &Detector{financial: compileWords(FinancialKeywords)}
	for _, p := range catalogue {
		d.patterns = append(d.patterns, compiledPattern{
			Pattern:  p,
			keywords: compileWords(p.Keywords),
		})
	}
	return d
}

// Keywords match at a word start, so "transfer" also hits "transfers".
// Acronyms of three letters or fewer must match the whole word.
func compileWords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		expr := `(?i)\b` + regexp.QuoteMeta(w)
		if len(w) <= 3 {
			expr += `\b`
		}
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// Detect returns one detection per matching pattern in catalogue order.
func (d *Detector) Detect(text string) []domain.PatternDetection {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lower := strings.ToLower(text)
	financial := d.hasFinancialContext(text)

	var detections []domain.PatternDetection
	for _, p := range d.patterns {
		var matched []string
		for i, re := range p.keywords {
			if re.MatchString(text) {
				matched = append(matched, p.Keywords[i])
			}
		}
		if len(matched) == 0 {
			continue
		}

		detections = append(detections, domain.PatternDetection{
			Pattern:          p.Name,
			Keywords:         matched,
			RiskLevel:        p.RiskLevel,
			Scenario:         p.Scenario,
			Description:      p.Description,
			Confidence:       confidence(lower, len(matched), financial, p.Boost),
			FinancialContext: financial,
		})
	}
	return detections
}

func (d *Detector) hasFinancialContext(text string) bool {
	for _, re := range d.financial {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func confidence(lower string, matches int, financial bool, patternBoost float64) float64 {
	c := baseConfidence + math.Min(float64(matches)*perKeyword, maxKeywordBoost)
	if financial {
		c += financialBoost
	}
	for _, t := range highConfidenceTerms {
		if strings.Contains(lower, t.term) {
			c += t.boost
		}
	}
	c += patternBoost
	return round2(math.Min(c, maxConfidence))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// MeanConfidence averages detection confidence; 0 for none.
func MeanConfidence(detections []domain.PatternDetection) float64 {
	if len(detections) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range detections {
		sum += d.Confidence
	}
	return sum / float64(len(detections))
}
