package normalizer

import "strings"

var extensionMarkers = []string{" ext.", " ext", " x", ";"}

// NormalizePhone reduces a phone field to digits with an optional leading
// plus. Extension suffixes are dropped. ok is false when too few digits
// survive for the value to be a dialable number.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(raw), "tel:"))
	for _, marker := range extensionMarkers {
		if idx := strings.Index(s, marker); idx > 0 {
			s = s[:idx]
		}
	}

	var digits strings.Builder
	plus := strings.HasPrefix(s, "+")
loop:
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0,
			r == ' ', r == '-', r == '.', r == '(', r == ')', r == '/':
			// separators
		default:
			// Anything else ends the number.
			break loop
		}
	}

	out := digits.String()
	if len(out) < 7 || len(out) > 15 {
		return "", false
	}
	if plus {
		return "+" + out, true
	}
	return out, true
}
