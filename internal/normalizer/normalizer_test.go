package normalizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw  string
		want Address
	}{
		{
			raw:  "12 Fern St, San Francisco, CA 94110",
			want: Address{Street: "12 Fern Street", City: "San Francisco", Region: "CA", PostalCode: "94110"},
		},
		{
			raw:  "800 Harbor Blvd, Oakland, CA 94607, USA",
			want: Address{Street: "800 Harbor Boulevard", City: "Oakland", Region: "CA", PostalCode: "94607", Country: "USA"},
		},
		{
			raw:  "5 Main Rd, Springfield",
			want: Address{Street: "5 Main Road", City: "Springfield"},
		},
	}
	for _, tt := range tests {
		got, ok := ParseAddress(tt.raw)
		require.True(t, ok, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseAddressUnsplittable(t *testing.T) {
	_, ok := ParseAddress("just a shop somewhere")
	require.False(t, ok)
}

func TestNormalizeStreetExpandsSuffix(t *testing.T) {
	require.Equal(t, "42 Elm Street", NormalizeStreet("42 elm st"))
	require.Equal(t, "42 Elm Street", NormalizeStreet("42 Elm St."))
	require.Equal(t, "9 Bay Avenue", NormalizeStreet("9 BAY AVE"))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"(415) 555-0134", "4155550134", true},
		{"+1 415.555.0134", "+14155550134", true},
		{"tel:555-0134", "5550134", true},
		{"415-555-0134 ext 22", "4155550134", true},
		{"call us!", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.raw)
		require.Equal(t, tt.ok, ok, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestNormalizePrice(t *testing.T) {
	for raw, want := range map[string]string{
		"$$":        "$$",
		"moderate":  "$$",
		"10-20":     "$$",
		"$95":       "$$$$",
		"expensive": "$$$",
	} {
		got, ok := NormalizePrice(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}
	_, ok := NormalizePrice("ask inside")
	require.False(t, ok)
}

func TestNormalizeAmenities(t *testing.T) {
	got, ok := NormalizeAmenities("Free WiFi; patio, Take-Out")
	require.True(t, ok)
	require.Equal(t, "outdoor_seating;takeout;wifi", got)
}

func listingRec(fields map[string]string) scrape.CandidateRecord {
	return scrape.CandidateRecord{
		Source:    scrape.SourceHTMLPattern,
		SourceURL: "https://example.com/list",
		Fields:    fields,
	}
}

func detailRec(kind scrape.SourceKind, fields map[string]string) scrape.CandidateRecord {
	return scrape.CandidateRecord{
		Source:     kind,
		SourceURL:  "https://example.com/biz/x",
		FromDetail: true,
		Fields:     fields,
	}
}

func TestMergePrecedence(t *testing.T) {
	n := New(nil)
	records := []scrape.CandidateRecord{
		listingRec(map[string]string{
			scrape.FieldName:  "Blue Fern",
			scrape.FieldPhone: "415 555 0000",
		}),
		detailRec(scrape.SourceJSONLD, map[string]string{
			scrape.FieldName:  "Blue Fern Bistro",
			scrape.FieldPhone: "415 555 0134",
		}),
		detailRec(scrape.SourceEmbeddedState, map[string]string{
			scrape.FieldName: "blue fern bistro sf",
		}),
	}
	entity := n.Merge(records)

	require.Equal(t, "Blue Fern Bistro", entity.Fields[scrape.FieldName])
	require.Equal(t, "4155550134", entity.Fields[scrape.FieldPhone])
	require.Equal(t, scrape.SourceJSONLD, entity.Provenance[scrape.FieldName].Kind)
	require.True(t, entity.Provenance[scrape.FieldName].FromDetail)
}

func TestMergeDetailOverridesListingWithinKind(t *testing.T) {
	n := New(nil)
	listing := scrape.CandidateRecord{
		Source:    scrape.SourceJSONLD,
		SourceURL: "https://example.com/list",
		Fields:    map[string]string{scrape.FieldName: "Fern (listing)"},
	}
	detail := detailRec(scrape.SourceJSONLD, map[string]string{scrape.FieldName: "Blue Fern Bistro"})

	entity := n.Merge([]scrape.CandidateRecord{listing, detail})
	require.Equal(t, "Blue Fern Bistro", entity.Fields[scrape.FieldName])
}

func TestMergeOrderIndependent(t *testing.T) {
	n := New(nil)
	a := listingRec(map[string]string{scrape.FieldName: "Corner Cafe", scrape.FieldPrice: "$$"})
	b := detailRec(scrape.SourceJSONLD, map[string]string{
		scrape.FieldName:       "Corner Cafe",
		scrape.FieldAddressRaw: "44 Oak Ave, Portland, OR 97201",
	})
	c := detailRec(scrape.SourceEmbeddedState, map[string]string{scrape.FieldRating: "4.2"})

	forward := n.Merge([]scrape.CandidateRecord{a, b, c})
	backward := n.Merge([]scrape.CandidateRecord{c, b, a})
	require.Equal(t, forward, backward)
}

func TestMergeIdempotent(t *testing.T) {
	n := New(nil)
	rec := detailRec(scrape.SourceJSONLD, map[string]string{
		scrape.FieldName:  "Corner Cafe",
		scrape.FieldPhone: "503 555 0101",
	})
	once := n.Merge([]scrape.CandidateRecord{rec})
	twice := n.Merge([]scrape.CandidateRecord{rec, rec})
	require.Equal(t, once, twice)
}

func TestMergeFieldsAndMissingDisjoint(t *testing.T) {
	n := New(nil)
	entity := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceJSONLD, map[string]string{scrape.FieldName: "Corner Cafe"}),
	})
	for f := range entity.Fields {
		_, missing := entity.Missing[f]
		require.False(t, missing, f)
	}
	_, nameMissing := entity.Missing[scrape.FieldName]
	require.False(t, nameMissing)
	_, phoneMissing := entity.Missing[scrape.FieldPhone]
	require.True(t, phoneMissing)
}

func TestMergeUnparseablePhoneKeptAsRawText(t *testing.T) {
	n := New(nil)
	entity := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceHTMLPattern, map[string]string{
			scrape.FieldName:  "Corner Cafe",
			scrape.FieldPhone: "call the front desk",
		}),
	})
	_, hasPhone := entity.Fields[scrape.FieldPhone]
	require.False(t, hasPhone)
	_, phoneMissing := entity.Missing[scrape.FieldPhone]
	require.True(t, phoneMissing)
	require.Contains(t, entity.Fields[scrape.FieldRawText], "call the front desk")
}

func TestMergeAddressSplitBackfillsComponents(t *testing.T) {
	n := New(nil)
	entity := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceHTMLPattern, map[string]string{
			scrape.FieldName:       "Corner Cafe",
			scrape.FieldAddressRaw: "44 Oak Ave, Portland, OR 97201",
		}),
	})
	require.Equal(t, "44 Oak Avenue", entity.Fields[scrape.FieldStreet])
	require.Equal(t, "Portland", entity.Fields[scrape.FieldCity])
	require.Equal(t, "OR", entity.Fields[scrape.FieldRegion])
	require.Equal(t, "97201", entity.Fields[scrape.FieldPostalCode])
	require.Equal(t, "44 Oak Ave, Portland, OR 97201", entity.Fields[scrape.FieldAddressRaw])
}

func TestComputeIDStableAcrossCosmeticDifferences(t *testing.T) {
	n := New(nil)
	a := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceJSONLD, map[string]string{
			scrape.FieldName:       "Blue Fern Bistro",
			scrape.FieldAddressRaw: "12 Fern St, San Francisco, CA 94110",
		}),
	})
	b := n.Merge([]scrape.CandidateRecord{
		listingRec(map[string]string{
			scrape.FieldName:       "BLUE  FERN   Bistro!",
			scrape.FieldAddressRaw: "12 Fern Street, San Francisco, CA 94110",
		}),
	})
	require.Equal(t, a.ID, b.ID)
	require.NotEmpty(t, a.ID)
}

func TestComputeIDUnifiesAbbreviatedAndSuiteAddresses(t *testing.T) {
	n := New(nil)
	a := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceJSONLD, map[string]string{
			scrape.FieldName:       "Harbor Grill",
			scrape.FieldAddressRaw: "123 Main St",
		}),
	})
	b := n.Merge([]scrape.CandidateRecord{
		listingRec(map[string]string{
			scrape.FieldName:       "Harbor Grill",
			scrape.FieldAddressRaw: "123 Main Street, Suite 2",
		}),
	})
	require.Equal(t, a.ID, b.ID)
	require.NotEmpty(t, a.ID)
}

func TestCanonicalAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main St", "123 main street"},
		{"123 Main Street Suite 2", "123 main street"},
		{"123 Main St #2", "123 main street"},
		{"44 Oak Ave Portland OR 97201", "44 oak avenue portland or 97201"},
		{"Unit 4 12 Fern St", "12 fern street"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, canonicalAddress(tt.in), tt.in)
	}
}

func TestComputeIDFallsBackToSourceURL(t *testing.T) {
	n := New(nil)
	a := n.Merge([]scrape.CandidateRecord{
		{Source: scrape.SourceHTMLPattern, SourceURL: "https://example.com/biz/a",
			Fields: map[string]string{scrape.FieldHours: "Mon-Fri 9-5"}},
	})
	b := n.Merge([]scrape.CandidateRecord{
		{Source: scrape.SourceHTMLPattern, SourceURL: "https://example.com/biz/b",
			Fields: map[string]string{scrape.FieldHours: "Mon-Fri 9-5"}},
	})
	require.NotEqual(t, a.ID, b.ID)
}

func TestMergeEntitiesFillsGaps(t *testing.T) {
	n := New(nil)
	a := n.Merge([]scrape.CandidateRecord{
		detailRec(scrape.SourceJSONLD, map[string]string{
			scrape.FieldName:       "Blue Fern Bistro",
			scrape.FieldAddressRaw: "12 Fern St, San Francisco, CA 94110",
		}),
	})
	b := n.Merge([]scrape.CandidateRecord{
		{Source: scrape.SourceHTMLPattern, SourceURL: "https://other.example/fern",
			Fields: map[string]string{
				scrape.FieldName:  "Blue Fern Bistro",
				scrape.FieldPhone: "415 555 0134",
			}},
	})

	merged := MergeEntities(a, b)
	require.Equal(t, "Blue Fern Bistro", merged.Fields[scrape.FieldName])
	require.Equal(t, "4155550134", merged.Fields[scrape.FieldPhone])
	require.Contains(t, merged.SourceURLs, "https://other.example/fern")
	_, phoneMissing := merged.Missing[scrape.FieldPhone]
	require.False(t, phoneMissing)
}

func TestSameEntityGuard(t *testing.T) {
	require.True(t, SameEntity("Blue Fern Bistro", "Blue Fern Bistro & Bar"))
	require.True(t, SameEntity("Blue Fern", "The Blue Fern"))
	require.False(t, SameEntity("Blue Fern Bistro", "Harbor Diner"))
}
