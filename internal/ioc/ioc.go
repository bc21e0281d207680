// Package ioc extracts indicators of compromise from event text.
package ioc

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern = regexp.MustCompile(`[a-zA-Z0-9]+[.][a-zA-Z]{2,}(?:\.[a-zA-Z]{2,})?`)
	hashPattern   = regexp.MustCompile(`\b[a-fA-F0-9]{32,128}\b`)
	cvePattern    = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	urlPattern    = regexp.MustCompile(`https?://[^\s]+`)
)

// Placeholder hosts never reported as typed indicators.
var ignoredHosts = []string{"example.com", "test.com"}

// Extract returns the sorted, deduplicated set of IPs, domains and hashes
// found in text, merged with the values of structured, a JSON list of
// strings. Domains and hashes are lowercased.
//
// The returned set is always usable. A non-nil error is a
// *domain.ParseError reporting that structured was malformed and ignored.
func Extract(text, structured string) ([]string, error) {
	set := make(map[string]struct{})

	for _, m := range ipPattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	for _, m := range domainPattern.FindAllString(text, -1) {
		set[strings.ToLower(m)] = struct{}{}
	}
	for _, m := range hashPattern.FindAllString(text, -1) {
		set[strings.ToLower(m)] = struct{}{}
	}

	var parseErr error
	values, err := ParseStructured(structured)
	if err != nil {
		parseErr = err
	}
	for _, v := range values {
		set[v] = struct{}{}
	}

	return sortedKeys(set), parseErr
}

// ParseStructured decodes a structured IOC field. Blank input is an empty
// list.
func ParseStructured(structured string) ([]string, error) {
	structured = strings.TrimSpace(structured)
	if structured == "" {
		return nil, nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(structured), &raw); err != nil {
		return nil, &domain.ParseError{Source: "event", Field: "iocs", Err: err}
	}

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Intersect returns the sorted values present in both sets.
func Intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(a))
	for _, v := range a {
		in[v] = struct{}{}
	}
	shared := make(map[string]struct{})
	for _, v := range b {
		if _, ok := in[v]; ok {
			shared[v] = struct{}{}
		}
	}
	if len(shared) == 0 {
		return nil
	}
	return sortedKeys(shared)
}

// Indicators are typed indicators found in threat text.
type Indicators struct {
	IPs     []string `json:"ips"`
	Domains []string `json:"domains"`
	Hashes  []string `json:"hashes"`
	CVEs    []string `json:"cves"`
	Emails  []string `json:"emails"`
	URLs    []string `json:"urls"`
}

// Count returns the total number of indicators.
func (i Indicators) Count() int {
	return len(i.IPs) + len(i.Domains) + len(i.Hashes) + len(i.CVEs) + len(i.Emails) + len(i.URLs)
}

// ExtractTyped categorizes the indicators found in text. Domains and emails
// on placeholder hosts are dropped.
func ExtractTyped(text string) Indicators {
	return Indicators{
		IPs:     unique(ipPattern.FindAllString(text, -1), nil),
		Domains: unique(domainPattern.FindAllString(text, -1), strings.ToLower, notIgnored),
		Hashes:  unique(hashPattern.FindAllString(text, -1), strings.ToLower),
		CVEs:    unique(cvePattern.FindAllString(text, -1), strings.ToUpper),
		Emails:  unique(emailPattern.FindAllString(text, -1), strings.ToLower, notIgnored),
		URLs:    unique(urlPattern.FindAllString(text, -1), nil),
	}
}

func notIgnored(s string) bool {
	for _, h := range ignoredHosts {
		if strings.Contains(s, h) {
			return false
		}
	}
	return true
}

func unique(values []string, norm func(string) string, keep ...func(string) bool) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if norm != nil {
			v = norm(v)
		}
		ok := true
		for _, k := range keep {
			if !k(v) {
				ok = false
				break
			}
		}
		if ok {
			set[v] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
