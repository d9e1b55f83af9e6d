package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// SiteAdapter maps a known host's hydration payload onto canonical fields.
type SiteAdapter interface {
	Match(host string) bool
	Extract(payload gjson.Result) map[string]string
}

// EmbeddedStateStrategy digs entity data out of JSON blobs injected for
// client-side hydration. A per-site adapter is preferred; when none matches
// the host, a generic key scan recovers recognizable field names.
type EmbeddedStateStrategy struct {
	adapters []SiteAdapter
}

// NewEmbeddedStateStrategy builds the strategy with the built-in adapters.
func NewEmbeddedStateStrategy(adapters ...SiteAdapter) *EmbeddedStateStrategy {
	if len(adapters) == 0 {
		adapters = []SiteAdapter{&yelpAdapter{}, &openTableAdapter{}}
	}
	return &EmbeddedStateStrategy{adapters: adapters}
}

// Kind implements Strategy.
func (s *EmbeddedStateStrategy) Kind() scrape.SourceKind { return scrape.SourceEmbeddedState }

var stateAssignments = regexp.MustCompile(
	`(?:window\.__PRELOADED_STATE__|window\.__INITIAL_STATE__|window\.__APP_STATE__|__NUXT__)\s*=\s*(\{.*)`)

// Extract scans inline script blocks for hydration payloads.
func (s *EmbeddedStateStrategy) Extract(doc *Document) []scrape.CandidateRecord {
	var records []scrape.CandidateRecord
	emit := func(fields map[string]string) {
		if len(fields) > 0 {
			records = append(records, scrape.CandidateRecord{Fields: fields})
		}
	}

	doc.Doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if _, external := sel.Attr("src"); external {
			return
		}
		text := sel.Text()
		payload, ok := statePayload(sel, text)
		if !ok {
			return
		}
		for _, adapter := range s.adapters {
			if adapter.Match(doc.Host) {
				emit(adapter.Extract(payload))
				return
			}
		}
		emit(genericKeyScan(payload))
	})
	return records
}

// statePayload recognizes either a Next.js data script or an inline
// assignment of a known hydration global, and returns valid JSON for it.
func statePayload(sel *goquery.Selection, text string) (gjson.Result, bool) {
	if id, _ := sel.Attr("id"); id == "__NEXT_DATA__" && gjson.Valid(text) {
		return gjson.Parse(text), true
	}
	m := stateAssignments.FindStringSubmatch(text)
	if m == nil {
		return gjson.Result{}, false
	}
	candidate := trimToBalancedObject(m[1])
	if candidate == "" || !gjson.Valid(candidate) {
		return gjson.Result{}, false
	}
	return gjson.Parse(candidate), true
}

// trimToBalancedObject cuts an assignment's right-hand side down to the
// first balanced JSON object, dropping trailing statements.
func trimToBalancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}

// genericKeyScan walks the payload collecting the first occurrence of each
// recognizable field name, depth-first.
func genericKeyScan(payload gjson.Result) map[string]string {
	fields := map[string]string{}
	var walk func(value gjson.Result)
	walk = func(value gjson.Result) {
		if !value.IsObject() && !value.IsArray() {
			return
		}
		value.ForEach(func(key, child gjson.Result) bool {
			if field, ok := recognizedKeys[strings.ToLower(key.String())]; ok {
				if _, seen := fields[field]; !seen {
					if text := strings.TrimSpace(child.String()); text != "" && !child.IsObject() && !child.IsArray() {
						fields[field] = text
					}
				}
			}
			walk(child)
			return true
		})
	}
	walk(payload)
	return fields
}

var recognizedKeys = map[string]string{
	"name":          scrape.FieldName,
	"title":         scrape.FieldName,
	"address":       scrape.FieldAddressRaw,
	"fulladdress":   scrape.FieldAddressRaw,
	"streetaddress": scrape.FieldStreet,
	"street":        scrape.FieldStreet,
	"city":          scrape.FieldCity,
	"locality":      scrape.FieldCity,
	"state":         scrape.FieldRegion,
	"region":        scrape.FieldRegion,
	"zipcode":       scrape.FieldPostalCode,
	"postalcode":    scrape.FieldPostalCode,
	"zip":           scrape.FieldPostalCode,
	"country":       scrape.FieldCountry,
	"phone":         scrape.FieldPhone,
	"telephone":     scrape.FieldPhone,
	"phonenumber":   scrape.FieldPhone,
	"rating":        scrape.FieldRating,
	"avgrating":     scrape.FieldRating,
	"pricerange":    scrape.FieldPrice,
	"price":         scrape.FieldPrice,
	"website":       scrape.FieldWebsite,
	"email":         scrape.FieldEmail,
	"hours":         scrape.FieldHours,
	"openinghours":  scrape.FieldHours,
	"latitude":      scrape.FieldLatitude,
	"longitude":     scrape.FieldLongitude,
}

// yelpAdapter reads the paths Yelp's hydration payload has kept stable.
type yelpAdapter struct{}

func (a *yelpAdapter) Match(host string) bool {
	return host == "www.yelp.com" || host == "yelp.com" || strings.HasSuffix(host, ".yelp.com")
}

func (a *yelpAdapter) Extract(payload gjson.Result) map[string]string {
	fields := map[string]string{}
	paths := map[string]string{
		scrape.FieldName:       "bizDetailsPageProps.bizContactInfoProps.businessName",
		scrape.FieldPhone:      "bizDetailsPageProps.bizContactInfoProps.phoneNumber",
		scrape.FieldWebsite:    "bizDetailsPageProps.bizContactInfoProps.businessWebsite.linkText",
		scrape.FieldRating:     "bizDetailsPageProps.ratingDetailsProps.rating",
		scrape.FieldAddressRaw: "bizDetailsPageProps.mapBoxProps.addressProps.addressLines",
	}
	for field, path := range paths {
		if v := payload.Get(path); v.Exists() {
			text := strings.TrimSpace(v.String())
			if v.IsArray() {
				var parts []string
				v.ForEach(func(_, item gjson.Result) bool {
					parts = append(parts, item.String())
					return true
				})
				text = strings.Join(parts, ", ")
			}
			if text != "" {
				fields[field] = text
			}
		}
	}
	if len(fields) == 0 {
		return genericKeyScan(payload)
	}
	return fields
}

// openTableAdapter reads OpenTable's restaurant profile payload.
type openTableAdapter struct{}

func (a *openTableAdapter) Match(host string) bool {
	return host == "www.opentable.com" || host == "opentable.com" || strings.HasSuffix(host, ".opentable.com")
}

func (a *openTableAdapter) Extract(payload gjson.Result) map[string]string {
	fields := map[string]string{}
	restaurant := payload.Get("windowVariables.__INITIAL_STATE__.restaurantProfile.restaurant")
	if !restaurant.Exists() {
		restaurant = payload.Get("props.pageProps.restaurant")
	}
	if !restaurant.Exists() {
		return genericKeyScan(payload)
	}
	paths := map[string]string{
		scrape.FieldName:       "name",
		scrape.FieldPhone:      "phoneNumber",
		scrape.FieldPrice:      "priceBand.name",
		scrape.FieldRating:     "statistics.reviews.ratings.overall.rating",
		scrape.FieldStreet:     "address.line1",
		scrape.FieldCity:       "address.city",
		scrape.FieldRegion:     "address.state",
		scrape.FieldPostalCode: "address.postCode",
		scrape.FieldCountry:    "address.country",
	}
	for field, path := range paths {
		if text := strings.TrimSpace(restaurant.Get(path).String()); text != "" {
			fields[field] = text
		}
	}
	return fields
}
