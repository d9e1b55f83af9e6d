package normalizer

import (
	"sort"
	"strings"
)

var amenitySynonyms = map[string]string{
	"wifi":                  "wifi",
	"wi-fi":                 "wifi",
	"free wifi":             "wifi",
	"free wi-fi":            "wifi",
	"wireless internet":     "wifi",
	"internet access":       "wifi",
	"parking":               "parking",
	"free parking":          "parking",
	"parking lot":           "parking",
	"street parking":        "parking",
	"valet parking":         "parking",
	"outdoor seating":       "outdoor_seating",
	"patio":                 "outdoor_seating",
	"terrace":               "outdoor_seating",
	"sidewalk seating":      "outdoor_seating",
	"delivery":              "delivery",
	"takeout":               "takeout",
	"take-out":              "takeout",
	"take away":             "takeout",
	"takeaway":              "takeout",
	"to-go":                 "takeout",
	"drive-thru":            "drive_thru",
	"drive through":         "drive_thru",
	"wheelchair accessible": "wheelchair_accessible",
	"accessible":            "wheelchair_accessible",
	"pet friendly":          "pet_friendly",
	"dog friendly":          "pet_friendly",
	"pets allowed":          "pet_friendly",
	"reservations":          "reservations",
	"accepts reservations":  "reservations",
	"live music":            "live_music",
	"happy hour":            "happy_hour",
	"kid friendly":          "family_friendly",
	"family friendly":       "family_friendly",
	"good for kids":         "family_friendly",
	"air conditioning":      "air_conditioning",
	"byob":                  "byob",
	"bar":                   "bar",
	"full bar":              "bar",
	"vegan":                 "vegan_options",
	"vegan options":         "vegan_options",
	"vegetarian":            "vegetarian_options",
	"vegetarian options":    "vegetarian_options",
	"gluten-free":           "gluten_free_options",
	"gluten free":           "gluten_free_options",
	"brunch":                "brunch",
}

// NormalizeAmenities canonicalizes a delimited amenity list through the
// synonym table. Unknown entries are kept as lowercased snake case rather
// than dropped. The result is sorted and de-duplicated; ok is false when
// nothing survives.
func NormalizeAmenities(raw string) (string, bool) {
	seen := map[string]struct{}{}
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ',' || r == '|' || r == '\n'
	}) {
		entry := strings.ToLower(strings.TrimSpace(part))
		if entry == "" {
			continue
		}
		canonical, ok := amenitySynonyms[entry]
		if !ok {
			canonical = strings.ReplaceAll(entry, " ", "_")
		}
		seen[canonical] = struct{}{}
	}
	if len(seen) == 0 {
		return "", false
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return strings.Join(out, ";"), true
}
