// Package extractor pulls candidate entity records out of fetched documents.
//
// Strategies run in trust order (structured markup, embedded state, HTML
// patterns) and every non-empty result is collected and tagged with its
// source kind; nothing is filtered for relevance here. Capture is lossless,
// later stages decide what a field means.
package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Document is the parsed view handed to each strategy.
type Document struct {
	URL  string
	Host string
	Doc  *goquery.Document
	// Sections groups body text under the nearest preceding heading so
	// pattern extraction can tag fields with their section context.
	Sections []Section
}

// Section is a heading plus the text between it and the next heading.
type Section struct {
	Title string
	Text  string
}

// Strategy extracts candidate records from a parsed document.
type Strategy interface {
	Kind() scrape.SourceKind
	Extract(doc *Document) []scrape.CandidateRecord
}

// Extractor iterates an ordered strategy list and collects all results.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New builds an Extractor with the default strategy order.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		strategies: []Strategy{
			&JSONLDStrategy{},
			NewEmbeddedStateStrategy(),
			NewPatternStrategy(),
		},
		logger: logger,
	}
}

// NewWithStrategies builds an Extractor with an explicit strategy list,
// mainly for tests.
func NewWithStrategies(logger *zap.Logger, strategies ...Strategy) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// Extract parses the fetched body once and runs every strategy over it.
// Parse failures in one strategy never propagate; extraction falls through
// to the next source.
func (e *Extractor) Extract(result scrape.FetchResult) []scrape.CandidateRecord {
	if !result.OK() {
		return nil
	}
	doc, err := e.parse(result)
	if err != nil {
		e.logger.Warn("document parse failed", zap.String("url", result.URL), zap.Error(err))
		return nil
	}

	var records []scrape.CandidateRecord
	for _, s := range e.strategies {
		extracted := s.Extract(doc)
		for _, rec := range extracted {
			if len(rec.Fields) == 0 {
				continue
			}
			rec.Source = s.Kind()
			if rec.SourceURL == "" {
				rec.SourceURL = doc.URL
			}
			records = append(records, rec)
		}
	}
	return records
}

func (e *Extractor) parse(result scrape.FetchResult) (*Document, error) {
	return ParseDocument(result)
}

// ParseDocument parses a fetched body into the Document strategies and
// listing helpers consume.
func ParseDocument(result scrape.FetchResult) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return nil, err
	}
	pageURL := result.FinalURL
	if pageURL == "" {
		pageURL = result.URL
	}
	return &Document{
		URL:      pageURL,
		Host:     scrape.Host(pageURL),
		Doc:      gq,
		Sections: splitSections(gq),
	}, nil
}

// splitSections walks the body, grouping text under the nearest preceding
// h1-h4 heading. Text before the first heading lands in an untitled section.
func splitSections(gq *goquery.Document) []Section {
	var sections []Section
	current := Section{}
	flush := func() {
		if strings.TrimSpace(current.Text) != "" || current.Title != "" {
			current.Text = collapseWhitespace(current.Text)
			sections = append(sections, current)
		}
	}

	gq.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		node := goquery.NodeName(sel)
		switch node {
		case "h1", "h2", "h3", "h4":
			flush()
			current = Section{Title: strings.TrimSpace(sel.Text())}
		case "script", "style", "noscript":
			// skip
		case "p", "li", "td", "span", "div", "address", "dd", "dt":
			if sel.Children().Length() == 0 {
				current.Text += " " + sel.Text()
			}
		}
	})
	flush()
	return sections
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
