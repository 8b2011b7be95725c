package sse

import (
	"bytes"
	"errors"
	"io"
)

// ErrMultilinePayload is returned when a payload would span more than one
// line and so could not be carried by a single "data:" field.
var ErrMultilinePayload = errors.New("sse: payload contains a newline")

// WriteData writes payload to w as one "data: <payload>\n\n" frame using a
// single Write call, so a frame is never split across two writes.
func WriteData(w io.Writer, payload []byte) error {
	if bytes.ContainsAny(payload, "\r\n") {
		return ErrMultilinePayload
	}

	frame := make([]byte, 0, len(DataPrefix)+len(payload)+2)
	frame = append(frame, DataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	_, err := w.Write(frame)
	return err
}
