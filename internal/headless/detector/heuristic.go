// Package detector decides when a plain HTTP response should be re-fetched
// through the headless renderer.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

const (
	defaultMinText        = 200
	scriptCoveragePercent = 25
)

// spaRoots are mount points left empty by client-rendered frameworks.
var spaRoots = []string{"#__next", "#root", "#app", "#__nuxt", "[data-reactroot]", "[ng-app]"}

// Heuristic promotes responses whose server HTML carries too little
// visible text to be worth hashing.
type Heuristic struct {
	MinText int
}

// NewHeuristic creates a detector. minText is the number of visible
// characters below which a page is treated as client-rendered.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Heuristic{MinText: minText}
}

// ShouldPromote implements monitor.HeadlessDetector.
func (h *Heuristic) ShouldPromote(probe monitor.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK {
		return false
	}
	body := probe.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}

	textLen := visibleTextLen(doc)
	if textLen >= h.MinText {
		return false
	}
	if emptyMount(doc) {
		return true
	}
	return scriptCoverage(doc, len(body)) >= scriptCoveragePercent
}

func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}

func emptyMount(doc *goquery.Document) bool {
	for _, sel := range spaRoots {
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.Text()) == "" || s.Children().Length() <= 1 {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// scriptCoverage returns the share of the raw document taken by inline
// script bodies and external script tags, as a percentage.
func scriptCoverage(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		covered += len(html)
	})
	return covered * 100 / total
}
