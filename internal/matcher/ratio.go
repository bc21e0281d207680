package matcher

// PartialRatio returns the best similarity in [0,1] between the shorter
// string and every equal-length window of the longer one. Each window is
// scored by normalized indel similarity, 2·LCS/(|a|+|b|). Inputs are
// compared rune by rune as given; callers normalize first.
func PartialRatio(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}

	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	n := len(short)
	best := 0
	// Reused DP rows.
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for start := 0; start+n <= len(long); start++ {
		l := lcs(short, long[start:start+n], prev, curr)
		if l > best {
			best = l
			if best == n {
				break
			}
		}
	}

	// Windows have the same length as short, so 2·LCS/(n+n) reduces to LCS/n.
	return float64(best) / float64(n)
}

// lcs returns the length of the longest common subsequence of a and b.
// prev and curr must have len(b)+1 capacity.
func lcs(a, b []rune, prev, curr []int) int {
	for j := range prev {
		prev[j] = 0
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = 0
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Histogram counts runes in a normalized name.
type Histogram map[rune]int

// NewHistogram builds the rune histogram of s.
func NewHistogram(s string) Histogram {
	h := make(Histogram, len(s))
	for _, r := range s {
		h[r]++
	}
	return h
}

// Len is the total rune count.
func (h Histogram) Len() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// Overlap returns the size of the multiset intersection of two histograms.
func (h Histogram) Overlap(o Histogram) int {
	if len(o) < len(h) {
		h, o = o, h
	}
	n := 0
	for r, c := range h {
		if oc := o[r]; oc < c {
			n += oc
		} else {
			n += c
		}
	}
	return n
}

// NameBound is an upper bound on PartialRatio(a, b) computed from the
// histograms alone. Any window's LCS with the shorter string is at most the
// multiset overlap of the two full strings.
func NameBound(a, b Histogram) float64 {
	la, lb := a.Len(), b.Len()
	short := la
	if lb < short {
		short = lb
	}
	if short == 0 {
		return 0
	}
	bound := float64(a.Overlap(b)) / float64(short)
	if bound > 1 {
		return 1
	}
	return bound
}
