package extractor

import (
	"regexp"
	"strings"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// PatternStrategy falls back to regex and keyword matching over the page's
// visible text when no structured data is present.
type PatternStrategy struct{}

// NewPatternStrategy returns the default pattern matcher.
func NewPatternStrategy() *PatternStrategy { return &PatternStrategy{} }

// Kind implements Strategy.
func (s *PatternStrategy) Kind() scrape.SourceKind { return scrape.SourceHTMLPattern }

var (
	phonePattern = regexp.MustCompile(
		`(?:\+?\d{1,3}[\s.-]?)?\(?\d{2,4}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}`)
	emailPattern = regexp.MustCompile(
		`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	addressPattern = regexp.MustCompile(
		`(?i)\d{1,5}\s+[\w\s.'-]{2,60}\b(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl|square|sq|way|parkway|pkwy|circle|cir|highway|hwy)\b\.?(?:\s*,?\s*(?:suite|ste|unit|apt|#)\s*\w+)?`)
	pricePattern = regexp.MustCompile(`(?:^|\s)(\${1,4})(?:\s|$|[,.])`)
	ratingPattern = regexp.MustCompile(
		`(?i)(\d(?:\.\d)?)\s*(?:/\s*5|stars?|out of 5)`)
	hoursHeading = regexp.MustCompile(`(?i)\b(hours?|open|opening times?)\b`)
)

var amenityKeywords = []string{
	"wifi", "wi-fi", "free wifi", "parking", "outdoor seating", "patio",
	"delivery", "takeout", "take-out", "drive-thru", "wheelchair accessible",
	"pet friendly", "dog friendly", "reservations", "live music",
	"happy hour", "brunch", "vegan", "vegetarian", "gluten-free", "bar",
	"kid friendly", "family friendly", "air conditioning", "byob",
}

// Extract scans headings, sections, and raw text for entity fields.
func (s *PatternStrategy) Extract(doc *Document) []scrape.CandidateRecord {
	fields := map[string]string{}

	if name := pageName(doc); name != "" {
		fields[scrape.FieldName] = name
	}

	var textParts []string
	for _, sec := range doc.Sections {
		textParts = append(textParts, sec.Text)
		if hoursHeading.MatchString(sec.Title) && sec.Text != "" {
			if _, seen := fields[scrape.FieldHours]; !seen {
				fields[scrape.FieldHours] = sec.Text
			}
		}
	}
	text := strings.Join(textParts, "\n")

	if addr := addressPattern.FindString(text); addr != "" {
		fields[scrape.FieldAddressRaw] = strings.TrimSpace(addr)
	}
	if phone := bestPhone(text); phone != "" {
		fields[scrape.FieldPhone] = phone
	}
	if email := emailPattern.FindString(text); email != "" {
		fields[scrape.FieldEmail] = email
	}
	if m := pricePattern.FindStringSubmatch(text); m != nil {
		fields[scrape.FieldPrice] = m[1]
	}
	if m := ratingPattern.FindStringSubmatch(text); m != nil {
		fields[scrape.FieldRating] = m[1]
	}
	if amenities := sniffAmenities(text); amenities != "" {
		fields[scrape.FieldAmenities] = amenities
	}

	if len(fields) == 0 {
		return nil
	}
	return []scrape.CandidateRecord{{Fields: fields}}
}

// pageName prefers the first h1, then the title with common suffixes cut.
func pageName(doc *Document) string {
	if h1 := strings.TrimSpace(doc.Doc.Find("h1").First().Text()); h1 != "" {
		return collapseWhitespace(h1)
	}
	title := strings.TrimSpace(doc.Doc.Find("title").First().Text())
	for _, sep := range []string{" | ", " - ", " – "} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
			break
		}
	}
	return collapseWhitespace(title)
}

// bestPhone prefers matches near a tel: link or a "phone" label, otherwise
// the first candidate with at least seven digits.
func bestPhone(text string) string {
	for _, m := range phonePattern.FindAllString(text, 10) {
		if digitCount(m) >= 7 {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func sniffAmenities(text string) string {
	lower := strings.ToLower(text)
	var found []string
	seen := map[string]struct{}{}
	for _, kw := range amenityKeywords {
		if strings.Contains(lower, kw) {
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			found = append(found, kw)
		}
	}
	return strings.Join(found, "; ")
}
