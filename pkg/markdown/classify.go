// Package markdown renders the small markdown subset produced by chat
// answers into HTML. Rendering is a pure function of the full text, so a
// client may re-render the cumulative answer after every delta.
package markdown

import (
	"regexp"
	"strings"
)

// LineKind classifies one input line.
type LineKind int

const (
	LineBlank LineKind = iota
	LineHeading
	LineListItem
	LineText
)

// Line is a classified, whitespace-trimmed input line.
type Line struct {
	Kind LineKind

	// Level is 1 to 3 for headings.
	Level int

	// Text is the line content with any heading or list marker removed.
	Text string
}

var listItem = regexp.MustCompile(`^(?:\d+\.\s+|-\s+)(.+)$`)

var headingPrefixes = []struct {
	prefix string
	level  int
}{
	{"### ", 3},
	{"## ", 2},
	{"# ", 1},
}

// Classify trims raw and determines its kind. Headings are checked before
// list items, and longer heading prefixes before shorter ones.
func Classify(raw string) Line {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Line{Kind: LineBlank}
	}

	for _, h := range headingPrefixes {
		if rest, ok := strings.CutPrefix(line, h.prefix); ok {
			return Line{Kind: LineHeading, Level: h.level, Text: rest}
		}
	}

	if m := listItem.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineListItem, Text: m[1]}
	}

	return Line{Kind: LineText, Text: line}
}
