package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// JSONLDStrategy extracts schema.org structured-data blocks. These are the
// most trustworthy source and their field values are taken verbatim.
type JSONLDStrategy struct{}

// Kind implements Strategy.
func (s *JSONLDStrategy) Kind() scrape.SourceKind { return scrape.SourceJSONLD }

// Extract parses every ld+json script block and flattens entity-shaped
// objects into candidate records. Malformed blocks are skipped; parse
// failure here is recovered by the lower-trust strategies.
func (s *JSONLDStrategy) Extract(doc *Document) []scrape.CandidateRecord {
	var records []scrape.CandidateRecord
	doc.Doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return
		}
		for _, obj := range flattenJSONLD(payload) {
			if rec, ok := s.recordFromObject(obj); ok {
				records = append(records, rec)
			}
		}
	})
	return records
}

// flattenJSONLD unwraps top-level arrays, @graph containers, and ItemList
// elements into a flat object list.
func flattenJSONLD(payload any) []map[string]any {
	var out []map[string]any
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			out = append(out, flattenJSONLD(item)...)
		}
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				out = append(out, flattenJSONLD(item)...)
			}
			return out
		}
		if items, ok := v["itemListElement"].([]any); ok {
			for _, item := range items {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if nested, ok := entry["item"]; ok {
					out = append(out, flattenJSONLD(nested)...)
				} else {
					out = append(out, flattenJSONLD(entry)...)
				}
			}
			return out
		}
		out = append(out, v)
	}
	return out
}

func (s *JSONLDStrategy) recordFromObject(obj map[string]any) (scrape.CandidateRecord, bool) {
	fields := map[string]string{}
	put := func(key string, value any) {
		text := strings.TrimSpace(stringify(value))
		if text != "" {
			fields[key] = text
		}
	}

	put(scrape.FieldName, obj["name"])
	put(scrape.FieldPhone, obj["telephone"])
	put(scrape.FieldPrice, obj["priceRange"])
	put(scrape.FieldWebsite, obj["url"])
	put(scrape.FieldEmail, obj["email"])
	put(scrape.FieldDescription, obj["description"])

	switch addr := obj["address"].(type) {
	case string:
		put(scrape.FieldAddressRaw, addr)
	case map[string]any:
		put(scrape.FieldStreet, addr["streetAddress"])
		put(scrape.FieldCity, addr["addressLocality"])
		put(scrape.FieldRegion, addr["addressRegion"])
		put(scrape.FieldPostalCode, addr["postalCode"])
		put(scrape.FieldCountry, addr["addressCountry"])
		put(scrape.FieldAddressRaw, joinAddressParts(addr))
	}

	if rating, ok := obj["aggregateRating"].(map[string]any); ok {
		put(scrape.FieldRating, rating["ratingValue"])
	}
	if geo, ok := obj["geo"].(map[string]any); ok {
		put(scrape.FieldLatitude, geo["latitude"])
		put(scrape.FieldLongitude, geo["longitude"])
	}
	if hours := obj["openingHours"]; hours != nil {
		put(scrape.FieldHours, hours)
	}
	if amenities := amenityFeatures(obj["amenityFeature"]); amenities != "" {
		fields[scrape.FieldAmenities] = amenities
	}

	if len(fields) == 0 {
		return scrape.CandidateRecord{}, false
	}
	return scrape.CandidateRecord{Fields: fields}, true
}

func amenityFeatures(value any) string {
	list, ok := value.([]any)
	if !ok {
		return ""
	}
	var names []string
	for _, item := range list {
		feature, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringify(feature["name"]))
		if name == "" {
			continue
		}
		if enabled, ok := feature["value"].(bool); ok && !enabled {
			continue
		}
		names = append(names, name)
	}
	return strings.Join(names, ";")
}

func joinAddressParts(addr map[string]any) string {
	var parts []string
	for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode", "addressCountry"} {
		if part := strings.TrimSpace(stringify(addr[key])); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return trimFloat(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []any:
		var parts []string
		for _, item := range v {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		// Nested objects like {"@type": "Country", "name": "US"}.
		if name, ok := v["name"]; ok {
			return stringify(name)
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
