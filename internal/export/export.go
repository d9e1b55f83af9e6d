// Package export serializes finished runs behind the pipeline's output
// boundary. Serializers see normalized entities only, never candidates or
// fetch results.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bizharvest/bizharvest/internal/normalizer"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Serializer renders an entity set into one output document.
type Serializer interface {
	Format() string
	ContentType() string
	Serialize(entities []scrape.NormalizedEntity) ([]byte, error)
}

// For returns the serializer for a format name. An empty name means CSV.
func For(format string) (Serializer, error) {
	switch format {
	case FormatCSV, "":
		return CSVSerializer{}, nil
	case FormatJSON:
		return JSONSerializer{}, nil
	default:
		return nil, fmt.Errorf("export: unknown format %q", format)
	}
}

// CSVSerializer writes the fixed column contract: one row per entity, the
// canonical field order as the header, blank cells for missing fields.
type CSVSerializer struct{}

func (CSVSerializer) Format() string      { return FormatCSV }
func (CSVSerializer) ContentType() string { return "text/csv" }

func (CSVSerializer) Serialize(entities []scrape.NormalizedEntity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"id"}, normalizer.CanonicalFields...)
	header = append(header, "source_urls", "detail_failed")
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}

	for _, e := range entities {
		row := make([]string, 0, len(header))
		row = append(row, string(e.ID))
		for _, f := range normalizer.CanonicalFields {
			row = append(row, e.Fields[f])
		}
		row = append(row, joinURLs(e.SourceURLs), boolCell(e.DetailFailed))
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("export: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return buf.Bytes(), nil
}

func joinURLs(urls []string) string {
	var buf bytes.Buffer
	for i, u := range urls {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(u)
	}
	return buf.String()
}

func boolCell(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// JSONSerializer writes one object per entity. Missing fields are listed by
// name and never rendered as empty or null values.
type JSONSerializer struct{}

func (JSONSerializer) Format() string      { return FormatJSON }
func (JSONSerializer) ContentType() string { return "application/json" }

type jsonEntity struct {
	ID            string            `json:"id"`
	Fields        map[string]string `json:"fields"`
	MissingFields []string          `json:"missing_fields,omitempty"`
	SourceURLs    []string          `json:"source_urls,omitempty"`
	DetailFailed  bool              `json:"detail_failed,omitempty"`
	Provenance    map[string]string `json:"provenance,omitempty"`
}

func (JSONSerializer) Serialize(entities []scrape.NormalizedEntity) ([]byte, error) {
	out := make([]jsonEntity, 0, len(entities))
	for _, e := range entities {
		je := jsonEntity{
			ID:           string(e.ID),
			Fields:       e.Fields,
			SourceURLs:   e.SourceURLs,
			DetailFailed: e.DetailFailed,
		}
		for f := range e.Missing {
			je.MissingFields = append(je.MissingFields, f)
		}
		sort.Strings(je.MissingFields)
		if len(e.Provenance) > 0 {
			je.Provenance = map[string]string{}
			for f, origin := range e.Provenance {
				je.Provenance[f] = string(origin.Kind)
			}
		}
		out = append(out, je)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal: %w", err)
	}
	return data, nil
}
