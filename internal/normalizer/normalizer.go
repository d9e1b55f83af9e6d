// Package normalizer turns raw candidate records into canonical entities.
//
// Candidates stay immutable; normalization reads them and writes a fresh
// NormalizedEntity. A field is either present with a usable value or listed
// in Missing, never present and empty.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// CanonicalFields is the output schema in column order. Export serializers
// follow this order exactly.
var CanonicalFields = []string{
	scrape.FieldName,
	scrape.FieldStreet,
	scrape.FieldCity,
	scrape.FieldRegion,
	scrape.FieldPostalCode,
	scrape.FieldCountry,
	scrape.FieldPhone,
	scrape.FieldWebsite,
	scrape.FieldEmail,
	scrape.FieldRating,
	scrape.FieldPrice,
	scrape.FieldHours,
	scrape.FieldAmenities,
	scrape.FieldLatitude,
	scrape.FieldLongitude,
	scrape.FieldDescription,
	scrape.FieldAddressRaw,
	scrape.FieldRawText,
}

// Normalizer canonicalizes merged field values.
type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// normalizeFields canonicalizes the winning raw values in place on the
// entity. Unparseable phones move into raw text so nothing captured is
// lost. The address split backfills components the sources never provided
// directly; a failed split leaves the raw line as is.
func (n *Normalizer) normalizeFields(entity *scrape.NormalizedEntity) {
	fields := entity.Fields

	if name, ok := fields[scrape.FieldName]; ok {
		fields[scrape.FieldName] = collapse(name)
	}

	if raw, ok := fields[scrape.FieldAddressRaw]; ok {
		if addr, parsed := ParseAddress(raw); parsed {
			origin := entity.Provenance[scrape.FieldAddressRaw]
			setIfAbsent(entity, scrape.FieldStreet, addr.Street, origin)
			setIfAbsent(entity, scrape.FieldCity, addr.City, origin)
			setIfAbsent(entity, scrape.FieldRegion, addr.Region, origin)
			setIfAbsent(entity, scrape.FieldPostalCode, addr.PostalCode, origin)
			setIfAbsent(entity, scrape.FieldCountry, addr.Country, origin)
		}
	}
	if street, ok := fields[scrape.FieldStreet]; ok {
		fields[scrape.FieldStreet] = NormalizeStreet(street)
	}

	if raw, ok := fields[scrape.FieldPhone]; ok {
		if phone, parsed := NormalizePhone(raw); parsed {
			fields[scrape.FieldPhone] = phone
		} else {
			n.logger.Debug("unparseable phone kept as raw text", zap.String("value", raw))
			appendRawText(entity, "phone: "+raw, entity.Provenance[scrape.FieldPhone])
			dropField(entity, scrape.FieldPhone)
		}
	}

	if raw, ok := fields[scrape.FieldPrice]; ok {
		if price, parsed := NormalizePrice(raw); parsed {
			fields[scrape.FieldPrice] = price
		} else {
			appendRawText(entity, "price: "+raw, entity.Provenance[scrape.FieldPrice])
			dropField(entity, scrape.FieldPrice)
		}
	}

	if raw, ok := fields[scrape.FieldAmenities]; ok {
		if amenities, parsed := NormalizeAmenities(raw); parsed {
			fields[scrape.FieldAmenities] = amenities
		} else {
			dropField(entity, scrape.FieldAmenities)
		}
	}

	if raw, ok := fields[scrape.FieldRating]; ok {
		if rating, parsed := normalizeRating(raw); parsed {
			fields[scrape.FieldRating] = rating
		} else {
			appendRawText(entity, "rating: "+raw, entity.Provenance[scrape.FieldRating])
			dropField(entity, scrape.FieldRating)
		}
	}

	for _, f := range []string{scrape.FieldCity, scrape.FieldRegion, scrape.FieldCountry,
		scrape.FieldWebsite, scrape.FieldEmail, scrape.FieldHours, scrape.FieldDescription} {
		if v, ok := fields[f]; ok {
			fields[f] = collapse(v)
		}
	}

	// Collapsing can reveal values that were only whitespace.
	for f, v := range fields {
		if strings.TrimSpace(v) == "" {
			dropField(entity, f)
		}
	}
}

func normalizeRating(raw string) (string, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 || v > 5 {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

func setIfAbsent(entity *scrape.NormalizedEntity, field, value string, origin scrape.FieldOrigin) {
	if value == "" {
		return
	}
	if _, exists := entity.Fields[field]; exists {
		return
	}
	entity.Fields[field] = value
	entity.Provenance[field] = origin
}

func appendRawText(entity *scrape.NormalizedEntity, fragment string, origin scrape.FieldOrigin) {
	if existing, ok := entity.Fields[scrape.FieldRawText]; ok {
		entity.Fields[scrape.FieldRawText] = existing + "\n" + fragment
		return
	}
	entity.Fields[scrape.FieldRawText] = fragment
	entity.Provenance[scrape.FieldRawText] = origin
}

func dropField(entity *scrape.NormalizedEntity, field string) {
	delete(entity.Fields, field)
	delete(entity.Provenance, field)
}

// fillMissing records every canonical field the entity ended up without.
func fillMissing(entity *scrape.NormalizedEntity) {
	entity.Missing = map[string]struct{}{}
	for _, f := range CanonicalFields {
		if _, ok := entity.Fields[f]; !ok {
			entity.Missing[f] = struct{}{}
		}
	}
}

// ComputeID derives a stable identity from the canonical name and address.
// Entities without a name fall back to their first source URL so they still
// get a deterministic identity, just not one that merges across sources.
func ComputeID(entity *scrape.NormalizedEntity) scrape.EntityID {
	name := canonicalToken(entity.Fields[scrape.FieldName])
	if name == "" {
		seed := "url:"
		if len(entity.SourceURLs) > 0 {
			seed += entity.SourceURLs[0]
		}
		return digest(seed)
	}
	addr := canonicalAddress(strings.Join([]string{
		entity.Fields[scrape.FieldStreet],
		entity.Fields[scrape.FieldCity],
		entity.Fields[scrape.FieldRegion],
		entity.Fields[scrape.FieldPostalCode],
	}, " "))
	if addr == "" {
		addr = canonicalAddress(entity.Fields[scrape.FieldAddressRaw])
	}
	return digest(name + "|" + addr)
}

// secondaryUnits are sub-premise designators. The token after one is its
// identifier and drops with it.
var secondaryUnits = map[string]struct{}{
	"suite": {}, "ste": {}, "unit": {}, "apt": {}, "apartment": {},
	"fl": {}, "floor": {}, "rm": {}, "room": {}, "bldg": {}, "building": {},
}

// canonicalAddress reduces an address fragment to comparable tokens:
// lowercase without punctuation, street suffix abbreviations expanded, and
// suite or unit designators dropped together with their identifier. The same
// premises must hash identically whether a source wrote "123 Main St" or
// "123 Main Street, Suite 2".
func canonicalAddress(s string) string {
	var out []string
	skipNext := false
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if strings.HasPrefix(tok, "#") {
			skipNext = false
			continue
		}
		word := canonicalToken(tok)
		if word == "" {
			continue
		}
		if skipNext {
			skipNext = false
			continue
		}
		if _, unit := secondaryUnits[word]; unit {
			skipNext = true
			continue
		}
		if full, ok := streetSuffixes[word]; ok {
			word = strings.ToLower(full)
		}
		out = append(out, word)
	}
	return strings.Join(out, " ")
}

func digest(s string) scrape.EntityID {
	sum := sha256.Sum256([]byte(s))
	return scrape.EntityID(hex.EncodeToString(sum[:]))
}

// canonicalToken lowercases, strips punctuation, and collapses whitespace
// so cosmetic differences never split an identity.
func canonicalToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n':
			b.WriteRune(' ')
		}
	}
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
