package normalizer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	dollarRunPattern = regexp.MustCompile(`^\${1,4}$`)
	priceRangeWords  = map[string]string{
		"cheap":          "$",
		"inexpensive":    "$",
		"budget":         "$",
		"moderate":       "$$",
		"mid-range":      "$$",
		"expensive":      "$$$",
		"upscale":        "$$$",
		"very expensive": "$$$$",
		"luxury":         "$$$$",
		"fine dining":    "$$$$",
	}
	numericRangePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:-|to|–)\s*(\d+(?:\.\d+)?)`)
)

// NormalizePrice maps a price field onto the one-to-four dollar-sign scale.
// Dollar runs pass through, known words map directly, and numeric ranges
// are bucketed by their midpoint. ok is false for anything else.
func NormalizePrice(raw string) (string, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", false
	}
	if dollarRunPattern.MatchString(s) {
		return s, true
	}
	if tier, ok := priceRangeWords[s]; ok {
		return tier, true
	}
	if m := numericRangePattern.FindStringSubmatch(s); m != nil {
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			return bucketPrice((lo + hi) / 2), true
		}
	}
	if v, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64); err == nil {
		return bucketPrice(v), true
	}
	return "", false
}

func bucketPrice(avg float64) string {
	switch {
	case avg < 15:
		return "$"
	case avg < 40:
		return "$$"
	case avg < 80:
		return "$$$"
	default:
		return "$$$$"
	}
}
