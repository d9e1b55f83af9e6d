package orchestrator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Plan bounds applied when the submitted plan leaves them zero, and hard
// caps a plan cannot exceed.
const (
	defaultMaxPages          = 50
	defaultMaxDepth          = 3
	defaultDetailConcurrency = 3
	maxDetailConcurrency     = 5
	maxPagesCeiling          = 500
)

const searchEndpoint = "https://html.duckduckgo.com/html/?q="

// ResolvePlan fills defaults, clamps bounds, and turns a bare search query
// seed into a result-page URL. The returned plan is the one the run
// actually executes.
func ResolvePlan(plan scrape.CrawlPlan) (scrape.CrawlPlan, error) {
	if strings.TrimSpace(plan.Seed) == "" {
		return plan, fmt.Errorf("plan: empty seed")
	}
	plan.Seed = resolveSeed(plan.Seed)
	if _, err := url.Parse(plan.Seed); err != nil {
		return plan, fmt.Errorf("plan: bad seed: %w", err)
	}

	if plan.MaxPages <= 0 {
		plan.MaxPages = defaultMaxPages
	}
	if plan.MaxPages > maxPagesCeiling {
		plan.MaxPages = maxPagesCeiling
	}
	if plan.MaxDepth <= 0 {
		plan.MaxDepth = defaultMaxDepth
	}
	if plan.DetailConcurrency <= 0 {
		plan.DetailConcurrency = defaultDetailConcurrency
	}
	if plan.DetailConcurrency > maxDetailConcurrency {
		plan.DetailConcurrency = maxDetailConcurrency
	}
	return plan, nil
}

// resolveSeed passes URLs through and routes anything else to a search
// results page for the phrase.
func resolveSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	if strings.HasPrefix(seed, "http://") || strings.HasPrefix(seed, "https://") {
		return seed
	}
	if !strings.ContainsAny(seed, " \t") && strings.Contains(seed, ".") {
		// A bare domain is a URL missing its scheme, not a query.
		return "https://" + seed
	}
	return searchEndpoint + url.QueryEscape(seed)
}
