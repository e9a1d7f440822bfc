// Package change normalizes page text, hashes it and classifies changes
// against the last stored snapshot.
package change

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

var (
	whitespaceRun = regexp.MustCompile(`[\s\v\p{Zs}\x{FEFF}\x{2028}\x{2029}]+`)
	nonWord       = regexp.MustCompile(`[^A-Za-z0-9_\s]`)
)

// Normalize lowercases text, collapses whitespace, strips punctuation and trims.
// Two pages that differ only in case, punctuation or spacing normalize equally.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = nonWord.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// PageText is the canonical text stored and hashed for a scraped page.
func PageText(title, body string) string {
	return "Title: " + title + "\n\n" + body
}

// Classify compares the new hash with the previous one, if any.
func Classify(previousHash *string, currentHash string) monitor.ChangeType {
	switch {
	case previousHash == nil:
		return monitor.ChangeNew
	case *previousHash != currentHash:
		return monitor.ChangeModified
	default:
		return monitor.ChangeUnchanged
	}
}

// Detector hashes normalized page text.
type Detector struct {
	hasher monitor.Hasher
}

// NewDetector returns a Detector backed by hasher.
func NewDetector(hasher monitor.Hasher) *Detector {
	return &Detector{hasher: hasher}
}

// ContentHash returns the digest of the normalized text.
func (d *Detector) ContentHash(text string) (string, error) {
	sum, err := d.hasher.Hash([]byte(Normalize(text)))
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return sum, nil
}

// Detect hashes text and classifies it against previousHash.
func (d *Detector) Detect(text string, previousHash *string) (string, monitor.ChangeType, error) {
	sum, err := d.ContentHash(text)
	if err != nil {
		return "", "", err
	}
	return sum, Classify(previousHash, sum), nil
}
