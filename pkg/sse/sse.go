// Package sse provides the line-level plumbing for Server-Sent Events streams
// used by the relay: a chunk-boundary independent line decoder, a pull-based
// line reader, and a "data:" frame writer.
//
// Only the "data: " field is meaningful to the relay. Other SSE fields
// ("event:", "id:", comments) are surfaced as ordinary lines and left for the
// caller to ignore.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "strings"

// DataPrefix marks a line that carries an event payload.
const DataPrefix = "data: "

// Payload returns the text following the "data: " prefix of line. The second
// return value is false when line does not carry a payload.
func Payload(line string) (string, bool) {
	return strings.CutPrefix(line, DataPrefix)
}
