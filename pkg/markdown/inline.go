package markdown

import (
	"html"
	"regexp"
	"strings"
)

// NodeKind discriminates inline nodes.
type NodeKind int

const (
	NodeText NodeKind = iota
	NodeCode
	NodeBold
	NodeItalic
)

// Node is one element of a parsed inline span. Text and Code nodes carry
// Text; Bold and Italic nodes carry Children.
type Node struct {
	Kind     NodeKind
	Text     string
	Children []Node
}

var codeSpan = regexp.MustCompile("`([^`]+)`")

// atom is either a single rune of source text or an already parsed node.
// Parsed nodes are opaque to later passes, so markers inside a code span can
// never start or end emphasis.
type atom struct {
	r    rune
	node *Node
}

func (a atom) is(r rune) bool {
	return a.node == nil && a.r == r
}

// ParseInline parses s into a tree of inline nodes.
//
// Code spans are recognized first, then bold (double asterisk, shortest
// match), then italic (single asterisk around a run without asterisks or
// newlines). A bold span may contain code; an italic span may contain code
// and bold. Anything unmatched stays literal text.
func ParseInline(s string) []Node {
	atoms := parseCode(s)
	atoms = parseBold(atoms)
	atoms = parseItalic(atoms)
	return collapse(atoms)
}

func parseCode(s string) []atom {
	atoms := make([]atom, 0, len(s))
	last := 0
	for _, m := range codeSpan.FindAllStringSubmatchIndex(s, -1) {
		for _, r := range s[last:m[0]] {
			atoms = append(atoms, atom{r: r})
		}
		atoms = append(atoms, atom{node: &Node{Kind: NodeCode, Text: s[m[2]:m[3]]}})
		last = m[1]
	}
	for _, r := range s[last:] {
		atoms = append(atoms, atom{r: r})
	}
	return atoms
}

func parseBold(atoms []atom) []atom {
	out := make([]atom, 0, len(atoms))
	for i := 0; i < len(atoms); {
		if i+1 < len(atoms) && atoms[i].is('*') && atoms[i+1].is('*') {
			if end := findBoldClose(atoms, i+3); end >= 0 {
				node := &Node{Kind: NodeBold, Children: collapse(atoms[i+2 : end])}
				out = append(out, atom{node: node})
				i = end + 2
				continue
			}
		}
		out = append(out, atoms[i])
		i++
	}
	return out
}

// findBoldClose returns the index of the first "**" at or after from.
func findBoldClose(atoms []atom, from int) int {
	for j := from; j+1 < len(atoms); j++ {
		if atoms[j].is('*') && atoms[j+1].is('*') {
			return j
		}
	}
	return -1
}

func parseItalic(atoms []atom) []atom {
	out := make([]atom, 0, len(atoms))
	for i := 0; i < len(atoms); {
		if atoms[i].is('*') {
			end := i + 1
			for end < len(atoms) && !atoms[end].is('*') && !atoms[end].is('\n') {
				end++
			}
			if end > i+1 && end < len(atoms) && atoms[end].is('*') {
				node := &Node{Kind: NodeItalic, Children: collapse(atoms[i+1 : end])}
				out = append(out, atom{node: node})
				i = end + 1
				continue
			}
		}
		out = append(out, atoms[i])
		i++
	}
	return out
}

// collapse merges runs of rune atoms into Text nodes.
func collapse(atoms []atom) []Node {
	var (
		nodes []Node
		text  strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, Node{Kind: NodeText, Text: text.String()})
			text.Reset()
		}
	}

	for _, a := range atoms {
		if a.node != nil {
			flush()
			nodes = append(nodes, *a.node)
			continue
		}
		text.WriteRune(a.r)
	}
	flush()

	return nodes
}

// RenderInline renders nodes to HTML. All text is escaped; only the tag
// wrappers are emitted verbatim.
func RenderInline(nodes []Node) string {
	var b strings.Builder
	renderNodes(&b, nodes)
	return b.String()
}

func renderNodes(b *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		switch n.Kind {
		case NodeText:
			b.WriteString(html.EscapeString(n.Text))
		case NodeCode:
			b.WriteString("<code>")
			b.WriteString(html.EscapeString(n.Text))
			b.WriteString("</code>")
		case NodeBold:
			b.WriteString("<strong>")
			renderNodes(b, n.Children)
			b.WriteString("</strong>")
		case NodeItalic:
			b.WriteString("<em>")
			renderNodes(b, n.Children)
			b.WriteString("</em>")
		}
	}
}

// Inline parses and renders s.
func Inline(s string) string {
	if s == "" {
		return ""
	}
	return RenderInline(ParseInline(s))
}
