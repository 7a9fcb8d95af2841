package detection

import (
	"math"
	"regexp"
	"strings"
)

const (
	DefaultEntropyThreshold = 0.35
	DefaultMinTokenLength   = 24
	maxTokenLength          = 200
)

var (
	reToken       = regexp.MustCompile(`[A-Za-z0-9+/=_-]{24,}`)
	reOnlyLetters = regexp.MustCompile(`^[A-Za-z]+$`)
	reOnlyDigits  = regexp.MustCompile(`^[0-9]+$`)
	reVendorName  = regexp.MustCompile(`(?i)^-?(?:webkit|moz|ms|o)-`)
)

// ShannonEntropy returns the entropy of the byte distribution of s divided by
// 8 bits, so the result lies in [0, 1].
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h / 8
}

// commonShape reports tokens that are long but obviously not secrets.
func commonShape(tok string) bool {
	trimmed := strings.Trim(tok, "=")
	return reOnlyLetters.MatchString(trimmed) ||
		reOnlyDigits.MatchString(trimmed) ||
		reVendorName.MatchString(tok)
}
