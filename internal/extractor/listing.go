package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// DetailLinks returns absolute URLs of probable entity detail pages found on
// a listing page, in document order and de-duplicated. JSON-LD ItemList
// entries take precedence over anchor heuristics.
func DetailLinks(doc *Document) []string {
	links := itemListLinks(doc)
	if len(links) == 0 {
		links = anchorLinks(doc)
	}
	return links
}

func itemListLinks(doc *Document) []string {
	var links []string
	seen := map[string]struct{}{}
	doc.Doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return
		}
		collectItemListLinks(doc, raw, seen, &links)
	})
	return links
}

func collectItemListLinks(doc *Document, payload any, seen map[string]struct{}, links *[]string) {
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			collectItemListLinks(doc, item, seen, links)
		}
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			collectItemListLinks(doc, graph, seen, links)
			return
		}
		elements, ok := v["itemListElement"].([]any)
		if !ok {
			return
		}
		for _, el := range elements {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			target := m
			if item, ok := m["item"].(map[string]any); ok {
				target = item
			}
			href, _ := target["url"].(string)
			if href == "" {
				href, _ = target["@id"].(string)
			}
			addLink(doc, href, seen, links)
		}
	}
}

var detailPathHints = []string{"/biz/", "/business/", "/listing/", "/place/", "/restaurant", "/company/", "/profile/", "/venue/", "/store/", "/location/"}

// anchorLinks applies path heuristics first and falls back to repeated-card
// detection: when many same-host anchors share a path prefix, the page is
// treated as a listing of that prefix.
func anchorLinks(doc *Document) []string {
	var links []string
	seen := map[string]struct{}{}
	doc.Doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		lower := strings.ToLower(href)
		for _, hint := range detailPathHints {
			if strings.Contains(lower, hint) {
				addLink(doc, href, seen, &links)
				return
			}
		}
	})
	if len(links) > 0 {
		return links
	}

	prefixes := map[string][]string{}
	doc.Doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, err := scrape.ResolveRef(doc.URL, href)
		if err != nil || !scrape.SameHost(abs, doc.URL) {
			return
		}
		norm, err := scrape.NormalizeURL(abs)
		if err != nil || !scrape.Followable(norm) {
			return
		}
		if prefix := pathPrefix(norm); prefix != "" {
			prefixes[prefix] = append(prefixes[prefix], norm)
		}
	})
	best := ""
	for prefix, urls := range prefixes {
		if len(urls) >= 5 && (best == "" || len(urls) > len(prefixes[best])) {
			best = prefix
		}
	}
	for _, u := range prefixes[best] {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		links = append(links, u)
	}
	return links
}

func pathPrefix(rawURL string) string {
	idx := strings.Index(rawURL, "//")
	if idx < 0 {
		return ""
	}
	rest := rawURL[idx+2:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	path := rest[slash:]
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return parts[0]
}

func addLink(doc *Document, href string, seen map[string]struct{}, links *[]string) {
	if href == "" {
		return
	}
	abs, err := scrape.ResolveRef(doc.URL, href)
	if err != nil {
		return
	}
	norm, err := scrape.NormalizeURL(abs)
	if err != nil || !scrape.Followable(norm) {
		return
	}
	if _, dup := seen[norm]; dup {
		return
	}
	seen[norm] = struct{}{}
	*links = append(*links, norm)
}

var nextLabels = map[string]struct{}{
	"next": {}, "next page": {}, "next ›": {}, "›": {}, "»": {}, "more": {}, "older": {},
}

// NextPage finds the pagination successor of a listing page. A rel="next"
// link wins; otherwise an anchor whose visible text is a next-style label.
// Returns "" when the page has no successor.
func NextPage(doc *Document) string {
	if href, ok := doc.Doc.Find(`link[rel="next"], a[rel="next"]`).First().Attr("href"); ok {
		return resolveNext(doc, href)
	}
	next := ""
	doc.Doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label := strings.ToLower(collapseWhitespace(sel.Text()))
		if _, ok := nextLabels[label]; !ok {
			return true
		}
		if href, ok := sel.Attr("href"); ok {
			next = resolveNext(doc, href)
			return next == ""
		}
		return true
	})
	return next
}

func resolveNext(doc *Document, href string) string {
	abs, err := scrape.ResolveRef(doc.URL, href)
	if err != nil {
		return ""
	}
	norm, err := scrape.NormalizeURL(abs)
	if err != nil || norm == doc.URL {
		return ""
	}
	return norm
}
