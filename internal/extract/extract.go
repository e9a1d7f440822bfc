// Package extract turns fetched HTML into the title and visible text used for
// change detection.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

var (
	titlePattern = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	spaceRun     = regexp.MustCompile(`[ \t\f\r\x{00A0}]+`)
)

// Elements that never contribute visible text.
const invisible = "script, style, noscript, template, svg, iframe"

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "tr": true, "td": true, "th": true, "ul": true,
}

// Page is the text view of a fetched document.
type Page struct {
	Title string
	Text  string
}

// FromHTML extracts the document title and visible body text. When the DOM
// walk yields no text, the readability article text is used instead.
func FromHTML(rawHTML, pageURL string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := Page{Title: strings.TrimSpace(doc.Find("title").First().Text())}
	if page.Title == "" {
		page.Title = TitleFromHTML(rawHTML)
	}

	doc.Find(invisible).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	walk(root, &b)
	page.Text = tidy(b.String())

	if page.Text == "" {
		title, text := readabilityText(rawHTML, pageURL)
		page.Text = text
		if page.Title == "" {
			page.Title = title
		}
	}
	return page, nil
}

// TitleFromHTML pulls the <title> text out of raw markup without parsing it.
func TitleFromHTML(rawHTML string) string {
	m := titlePattern.FindStringSubmatch(rawHTML)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// VisibleTextLength counts characters of visible body text.
func VisibleTextLength(doc *goquery.Document) int {
	clone := goquery.CloneDocument(doc)
	clone.Find(invisible).Remove()
	var b strings.Builder
	walk(clone.Find("body"), &b)
	return len([]rune(tidy(b.String())))
}

func walk(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch {
		case name == "#text":
			b.WriteString(s.Text())
		case name == "#comment":
		case blockElements[name]:
			b.WriteByte('\n')
			walk(s, b)
			b.WriteByte('\n')
		default:
			walk(s, b)
		}
	})
}

func tidy(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func readabilityText(rawHTML, pageURL string) (string, string) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", ""
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), tidy(article.TextContent)
}
