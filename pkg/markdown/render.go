package markdown

import (
	"strconv"
	"strings"
)

type block int

const (
	blockNone block = iota
	blockParagraph
	blockList
)

// Render converts text to HTML.
//
// Lines are processed in order. A blank line closes any open paragraph or
// list. Consecutive text lines share one paragraph joined by <br>. Ordered
// and unordered items both render into a <ul>. Every tag opened is closed by
// the end of the output.
func Render(text string) string {
	var (
		out  strings.Builder
		open = blockNone
	)

	closeParagraph := func() {
		if open == blockParagraph {
			out.WriteString("</p>")
			open = blockNone
		}
	}
	closeList := func() {
		if open == blockList {
			out.WriteString("</ul>")
			open = blockNone
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := Classify(raw)

		switch line.Kind {
		case LineBlank:
			closeParagraph()
			closeList()

		case LineHeading:
			closeParagraph()
			closeList()
			tag := "h" + strconv.Itoa(line.Level)
			out.WriteString("<" + tag + ">")
			out.WriteString(Inline(line.Text))
			out.WriteString("</" + tag + ">")

		case LineListItem:
			closeParagraph()
			if open != blockList {
				out.WriteString("<ul>")
				open = blockList
			}
			out.WriteString("<li>")
			out.WriteString(Inline(line.Text))
			out.WriteString("</li>")

		case LineText:
			closeList()
			if open == blockParagraph {
				out.WriteString("<br>")
			} else {
				out.WriteString("<p>")
				open = blockParagraph
			}
			out.WriteString(Inline(line.Text))
		}
	}

	closeParagraph()
	closeList()

	return out.String()
}

// Renderer adapts Render to interfaces that expect a method.
type Renderer struct{}

// Render converts text to HTML.
func (Renderer) Render(text string) string {
	return Render(text)
}
