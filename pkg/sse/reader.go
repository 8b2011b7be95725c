package sse

import (
	"errors"
	"io"
)

const readBufferSize = 32 * 1024

// LineReader pulls chunks from a source io.Reader and yields the lines a
// Decoder produces from them.
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │  arbitrary chunks
// ▼
// ┌──────────────────┐
// │     Decoder      │
// └──────────────────┘
// │  complete lines
// ▼
// ┌──────────────────┐
// │ LineReader.Next  │
// └──────────────────┘
type LineReader struct {
	src     io.Reader
	decoder *Decoder
	buf     []byte

	lines []string
	err   error
}

// NewLineReader returns a LineReader over src.
func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{
		src:     src,
		decoder: NewDecoder(),
		buf:     make([]byte, readBufferSize),
	}
}

// Next blocks until a complete line is available and returns it.
//
// When src reaches io.EOF the buffered remainder is returned as a final line
// and subsequent calls return io.EOF. Any other read error is returned once
// the lines decoded before it have been consumed; the incomplete remainder is
// discarded in that case.
func (r *LineReader) Next() (string, error) {
	for len(r.lines) == 0 {
		if r.err != nil {
			return "", r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.lines = append(r.lines, r.decoder.Decode(r.buf[:n])...)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				r.lines = append(r.lines, r.decoder.Flush()...)
				err = io.EOF
			}
			r.err = err
		}
	}

	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}
