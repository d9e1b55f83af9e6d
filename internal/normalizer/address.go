package normalizer

import (
	"regexp"
	"strings"
)

// Address holds the component split of a raw address line. Empty components
// mean the split could not recover them, never that they were normalized to
// empty.
type Address struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

var streetSuffixes = map[string]string{
	"st":        "Street",
	"st.":       "Street",
	"street":    "Street",
	"ave":       "Avenue",
	"ave.":      "Avenue",
	"av":        "Avenue",
	"avenue":    "Avenue",
	"rd":        "Road",
	"rd.":       "Road",
	"road":      "Road",
	"blvd":      "Boulevard",
	"blvd.":     "Boulevard",
	"boulevard": "Boulevard",
	"ln":        "Lane",
	"ln.":       "Lane",
	"lane":      "Lane",
	"dr":        "Drive",
	"dr.":       "Drive",
	"drive":     "Drive",
	"ct":        "Court",
	"ct.":       "Court",
	"court":     "Court",
	"pl":        "Place",
	"pl.":       "Place",
	"place":     "Place",
	"sq":        "Square",
	"sq.":       "Square",
	"square":    "Square",
	"pkwy":      "Parkway",
	"pkwy.":     "Parkway",
	"parkway":   "Parkway",
	"hwy":       "Highway",
	"hwy.":      "Highway",
	"highway":   "Highway",
	"cir":       "Circle",
	"cir.":      "Circle",
	"circle":    "Circle",
	"way":       "Way",
}

var (
	usPostalPattern  = regexp.MustCompile(`\b(\d{5}(?:-\d{4})?)\b`)
	ukPostalPattern  = regexp.MustCompile(`(?i)\b([A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2})\b`)
	caPostalPattern  = regexp.MustCompile(`(?i)\b([A-Z]\d[A-Z]\s*\d[A-Z]\d)\b`)
	regionZipPattern = regexp.MustCompile(`^([A-Za-z .]+?)[\s,]+(\d{5}(?:-\d{4})?)$`)
)

// ParseAddress splits a free-form address line on commas and assigns
// components positionally, pulling the postal code out by pattern. The
// caller keeps the raw line when ok is false.
func ParseAddress(raw string) (Address, bool) {
	parts := splitTrim(raw, ",")
	if len(parts) < 2 {
		return Address{}, false
	}

	var addr Address
	addr.Street = NormalizeStreet(parts[0])
	rest := parts[1:]

	// A trailing country name is only trusted when enough parts remain.
	if len(rest) >= 3 {
		if country := recognizeCountry(rest[len(rest)-1]); country != "" {
			addr.Country = country
			rest = rest[:len(rest)-1]
		}
	}

	switch len(rest) {
	case 1:
		addr.City, addr.Region, addr.PostalCode = splitCityTail(rest[0])
	case 2:
		addr.City = rest[0]
		addr.Region, addr.PostalCode = splitRegionTail(rest[1])
	default:
		addr.City = rest[0]
		addr.Region = rest[1]
		addr.PostalCode = extractPostal(strings.Join(rest[2:], " "))
	}

	if addr.City == "" && addr.Region == "" && addr.PostalCode == "" {
		return Address{}, false
	}
	return addr, true
}

// NormalizeStreet title-cases a street line and expands the trailing suffix
// abbreviation.
func NormalizeStreet(street string) string {
	words := strings.Fields(street)
	for i, w := range words {
		lower := strings.ToLower(w)
		if full, ok := streetSuffixes[lower]; ok && i > 0 {
			words[i] = full
			continue
		}
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func splitCityTail(s string) (city, region, postal string) {
	postal = extractPostal(s)
	if postal != "" {
		s = strings.TrimSpace(strings.Replace(s, postal, "", 1))
		s = strings.Trim(s, " ,")
	}
	fields := strings.Fields(s)
	if len(fields) >= 2 && looksLikeRegion(fields[len(fields)-1]) {
		region = fields[len(fields)-1]
		city = strings.Join(fields[:len(fields)-1], " ")
	} else {
		city = s
	}
	return city, region, postal
}

func splitRegionTail(s string) (region, postal string) {
	if m := regionZipPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	if postal = extractPostal(s); postal != "" {
		region = strings.Trim(strings.Replace(s, postal, "", 1), " ,")
		return region, postal
	}
	return s, ""
}

func extractPostal(s string) string {
	for _, p := range []*regexp.Regexp{usPostalPattern, caPostalPattern, ukPostalPattern} {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

func looksLikeRegion(s string) bool {
	s = strings.TrimRight(s, ".")
	return len(s) == 2 && s == strings.ToUpper(s)
}

var countryNames = map[string]string{
	"usa":            "USA",
	"us":             "USA",
	"united states":  "USA",
	"uk":             "UK",
	"united kingdom": "UK",
	"canada":         "Canada",
	"australia":      "Australia",
	"ireland":        "Ireland",
	"new zealand":    "New Zealand",
	"germany":        "Germany",
	"france":         "France",
}

func recognizeCountry(s string) string {
	return countryNames[strings.ToLower(strings.TrimSpace(s))]
}

func splitTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	if len(w) == 2 && w == strings.ToUpper(w) && !strings.ContainsAny(w, "0123456789") {
		// Keep two-letter all-caps tokens, usually region codes.
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}
