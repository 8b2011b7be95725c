package sse_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/sse"
)

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

var _ = Describe("WriteData", func() {
	It("writes a complete frame in one call", func() {
		w := &countingWriter{}
		Expect(sse.WriteData(w, []byte(`{"type":"chunk","content":"hi"}`))).To(Succeed())
		Expect(w.String()).To(Equal("data: {\"type\":\"chunk\",\"content\":\"hi\"}\n\n"))
		Expect(w.writes).To(Equal(1))
	})

	It("rejects payloads containing newlines", func() {
		w := &countingWriter{}
		Expect(sse.WriteData(w, []byte("a\nb"))).To(MatchError(sse.ErrMultilinePayload))
		Expect(w.writes).To(Equal(0))
	})

	It("round-trips through the line reader", func() {
		var buf bytes.Buffer
		Expect(sse.WriteData(&buf, []byte("one"))).To(Succeed())
		Expect(sse.WriteData(&buf, []byte("two"))).To(Succeed())

		lines := sse.NewDecoder().Decode(buf.Bytes())
		Expect(lines).To(Equal([]string{"data: one", "", "data: two", ""}))
	})
})
