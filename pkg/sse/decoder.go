package sse

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns an arbitrarily chunked byte stream into complete lines.
//
// Bytes are decoded as UTF-8 in streaming mode: a multi-byte character split
// across two chunks is held back until its remaining bytes arrive, and
// ill-formed sequences become U+FFFD. The trailing partial line is buffered
// until a later chunk completes it or Flush is called.
//
// Lines are split on "\n". A single trailing "\r" is removed so CRLF streams
// yield the same lines as LF streams. For any split of the same byte stream
// into chunks, the concatenation of lines emitted by Decode and Flush is
// identical.
type Decoder struct {
	utf8 transform.Transformer

	// pending holds undecoded bytes of an incomplete trailing character.
	pending []byte

	// partial holds decoded text after the last newline.
	partial strings.Builder
}

// NewDecoder returns a Decoder with empty buffers.
func NewDecoder() *Decoder {
	return &Decoder{
		utf8: unicode.UTF8.NewDecoder(),
	}
}

// Decode consumes chunk and returns the lines it completed, in order. The
// returned slice is empty when chunk did not contain a newline.
func (d *Decoder) Decode(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	text := d.transform(chunk, false)
	return d.split(text)
}

// Flush signals end of stream. Any withheld bytes are decoded (ill-formed
// remainders become U+FFFD) and the buffered remainder is returned as the
// final line, which may be empty. The Decoder is reset and may be reused.
func (d *Decoder) Flush() []string {
	text := d.transform(nil, true)
	lines := d.split(text)
	lines = append(lines, strings.TrimSuffix(d.partial.String(), "\r"))

	d.partial.Reset()
	d.pending = d.pending[:0]
	d.utf8.Reset()

	return lines
}

// Buffered returns the decoded text held after the last newline.
func (d *Decoder) Buffered() string {
	return d.partial.String()
}

func (d *Decoder) transform(chunk []byte, atEOF bool) string {
	src := append(d.pending, chunk...)
	if len(src) == 0 {
		return ""
	}

	// Every source byte can expand to at most one replacement character.
	dst := make([]byte, len(src)*utf8.UTFMax)
	nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		// Ill-formed input is replaced, so only ErrShortSrc is expected.
		d.pending = d.pending[:0]
		return string(src)
	}

	d.pending = append(d.pending[:0], src[nSrc:]...)
	return string(dst[:nDst])
}

func (d *Decoder) split(text string) []string {
	var lines []string
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			d.partial.WriteString(text)
			return lines
		}

		d.partial.WriteString(text[:idx])
		lines = append(lines, strings.TrimSuffix(d.partial.String(), "\r"))
		d.partial.Reset()
		text = text[idx+1:]
	}
}
