// Package markdown converts stored HTML snapshots into markdown for the LLM
// analyzers and keeps processed_content.markdown_pages in sync with raw content.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/compintel-monitor/internal/extract"
	"github.com/JakeFAU/compintel-monitor/internal/hash/sha256"
)

var (
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	trailingSpaces = regexp.MustCompile(`(?m)[ \t]+$`)
)

// Converter renders HTML as markdown with ATX headings and fenced code.
type Converter struct {
	conv *md.Converter
}

// NewConverter builds a Converter. Tables are kept as delimited text blocks.
func NewConverter() *Converter {
	conv := md.NewConverter("", true, &md.Options{
		HeadingStyle:   "atx",
		CodeBlockStyle: "fenced",
		EmDelimiter:    "_",
	})
	conv.Remove("script", "style", "noscript")
	conv.AddRules(md.Rule{
		Filter: []string{"table"},
		Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
			return md.String("\n\n[TABLE]\n" + content + "\n[/TABLE]\n\n")
		},
	})
	return &Converter{conv: conv}
}

// Convert returns the markdown for rawHTML, headed by the page title. An empty
// title is recovered from the <title> element.
func (c *Converter) Convert(rawHTML, title string) (string, error) {
	if title == "" {
		title = extract.TitleFromHTML(rawHTML)
	}
	body, err := c.conv.ConvertString(rawHTML)
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	out := body
	if title != "" {
		out = "# " + title + "\n\n" + body
	}
	out = blankRuns.ReplaceAllString(out, "\n\n")
	out = trailingSpaces.ReplaceAllString(out, "")
	return strings.TrimSpace(out), nil
}

// Hash returns the hex SHA-256 of markdown.
func Hash(markdown string) string {
	return sha256.Sum(markdown)
}
