// Package sanitize normalizes free text arriving from the CRM before it is
// stored, classified or echoed back to a lead.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	blockBreakRegex = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li)\s*/?>`)
	spaceRunRegex   = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes tags and decodes entities. Tags are stripped again after
// decoding so encoded markup does not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text is for single-line fields such as names.
func Text(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}

// MessageText keeps line structure: block-level tags become newlines,
// horizontal whitespace collapses and runs of blank lines shrink to one.
func MessageText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blockBreakRegex.ReplaceAllString(s, "\n")
	s = StripHTML(s)
	s = spaceRunRegex.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = blankLinesRegex.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
