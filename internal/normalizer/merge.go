package normalizer

import (
	"sort"
	"strings"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Merge collapses every candidate record describing one entity into a
// single normalized entity. Selection runs per field over the whole set, so
// the result does not depend on candidate order: structured markup beats
// embedded state beats HTML patterns, a detail page beats a listing page
// within the same source kind, and remaining ties break on the value itself.
func (n *Normalizer) Merge(records []scrape.CandidateRecord) scrape.NormalizedEntity {
	entity := scrape.NormalizedEntity{
		Fields:     map[string]string{},
		Provenance: map[string]scrape.FieldOrigin{},
	}
	if len(records) == 0 {
		fillMissing(&entity)
		entity.ID = ComputeID(&entity)
		return entity
	}

	urls := map[string]struct{}{}
	fieldNames := map[string]struct{}{}
	for _, rec := range records {
		if rec.SourceURL != "" {
			urls[rec.SourceURL] = struct{}{}
		}
		for f := range rec.Fields {
			fieldNames[f] = struct{}{}
		}
	}
	for u := range urls {
		entity.SourceURLs = append(entity.SourceURLs, u)
	}
	sort.Strings(entity.SourceURLs)

	for f := range fieldNames {
		value, origin, ok := bestValue(records, f)
		if !ok {
			continue
		}
		entity.Fields[f] = value
		entity.Provenance[f] = origin
	}

	n.normalizeFields(&entity)
	fillMissing(&entity)
	entity.ID = ComputeID(&entity)
	return entity
}

func bestValue(records []scrape.CandidateRecord, field string) (string, scrape.FieldOrigin, bool) {
	var (
		value  string
		origin scrape.FieldOrigin
		found  bool
	)
	for _, rec := range records {
		v := strings.TrimSpace(rec.Fields[field])
		if v == "" {
			continue
		}
		cand := scrape.FieldOrigin{Kind: rec.Source, FromDetail: rec.FromDetail}
		if !found || betterOrigin(cand, origin) || (sameRank(cand, origin) && v < value) {
			value, origin, found = v, cand, true
		}
	}
	return value, origin, found
}

func betterOrigin(a, b scrape.FieldOrigin) bool {
	if a.Kind.Priority() != b.Kind.Priority() {
		return a.Kind.Priority() > b.Kind.Priority()
	}
	return a.FromDetail && !b.FromDetail
}

func sameRank(a, b scrape.FieldOrigin) bool {
	return a.Kind.Priority() == b.Kind.Priority() && a.FromDetail == b.FromDetail
}

// MergeEntities folds b into a when both carry the same identity. SourceURLs
// union; fields fill gaps only, since each entity already resolved its own
// precedence. A field a lacks is taken from b along with its provenance.
func MergeEntities(a, b scrape.NormalizedEntity) scrape.NormalizedEntity {
	out := a
	out.Fields = map[string]string{}
	out.Provenance = map[string]scrape.FieldOrigin{}
	for f, v := range a.Fields {
		out.Fields[f] = v
		out.Provenance[f] = a.Provenance[f]
	}
	for f, v := range b.Fields {
		if _, exists := out.Fields[f]; !exists || betterOrigin(b.Provenance[f], out.Provenance[f]) {
			out.Fields[f] = v
			out.Provenance[f] = b.Provenance[f]
		}
	}

	urls := map[string]struct{}{}
	for _, u := range a.SourceURLs {
		urls[u] = struct{}{}
	}
	for _, u := range b.SourceURLs {
		urls[u] = struct{}{}
	}
	out.SourceURLs = out.SourceURLs[:0]
	for u := range urls {
		out.SourceURLs = append(out.SourceURLs, u)
	}
	sort.Strings(out.SourceURLs)

	out.DetailFailed = a.DetailFailed && b.DetailFailed
	fillMissing(&out)
	return out
}

// SameEntity guards identity merges when two records carry different raw
// names. Token overlap below the threshold means the pages likely describe
// different businesses even if their canonical keys collide.
func SameEntity(nameA, nameB string) bool {
	const threshold = 0.3
	ta := nameTokens(nameA)
	tb := nameTokens(nameB)
	if len(ta) == 0 || len(tb) == 0 {
		return true
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter)/float64(union) >= threshold
}

func nameTokens(name string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, t := range strings.Fields(canonicalToken(name)) {
		tokens[t] = struct{}{}
	}
	return tokens
}
