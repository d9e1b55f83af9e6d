// Package detector recognizes bot-defense responses and pages that need a
// real browser to materialize.
package detector

import (
	"bytes"
	"strings"
)

// Heuristic implements rule-based detection over response bodies.
type Heuristic struct {
	BodyLengthThreshold int
}

// New creates a detector. threshold is the body size under which a
// script-heavy page is considered an unhydrated client-side shell.
func New(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var captchaMarkers = [][]byte{
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("captcha-delivery"),
	[]byte("cf-turnstile"),
	[]byte("challenge-platform"),
	[]byte("px-captcha"),
}

var blockMarkers = [][]byte{
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("unusual traffic"),
	[]byte("verify you are a human"),
	[]byte("attention required"),
	[]byte("ddos protection by"),
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("__NUXT__"),
}

// IsCaptcha reports whether the body carries a known challenge widget.
func (h *Heuristic) IsCaptcha(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether the body reads like a bot-defense interstitial.
// Challenge widgets are reported separately via IsCaptcha.
func (h *Heuristic) IsBlocked(statusCode int, body []byte) bool {
	if statusCode == 403 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range blockMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ShouldRender decides whether the static body warrants a rendered re-fetch.
func (h *Heuristic) ShouldRender(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
