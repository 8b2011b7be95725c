package sse_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/sse"
)

func decodeAll(chunks ...[]byte) []string {
	d := sse.NewDecoder()
	var lines []string
	for _, chunk := range chunks {
		lines = append(lines, d.Decode(chunk)...)
	}
	return append(lines, d.Flush()...)
}

var _ = Describe("Decoder", func() {
	Describe("Decode", func() {
		It("returns nothing until a newline arrives", func() {
			d := sse.NewDecoder()
			Expect(d.Decode([]byte(`data: {"event":"mes`))).To(BeEmpty())
			Expect(d.Buffered()).To(Equal(`data: {"event":"mes`))
		})

		It("completes a line split across chunks", func() {
			d := sse.NewDecoder()
			Expect(d.Decode([]byte("data: a"))).To(BeEmpty())
			Expect(d.Decode([]byte("bc\nda"))).To(Equal([]string{"data: abc"}))
			Expect(d.Buffered()).To(Equal("da"))
		})

		It("returns every line completed by one chunk in order", func() {
			d := sse.NewDecoder()
			Expect(d.Decode([]byte("one\ntwo\n\nthree"))).To(Equal([]string{"one", "two", ""}))
		})

		It("strips a trailing carriage return", func() {
			d := sse.NewDecoder()
			Expect(d.Decode([]byte("data: x\r\n\r\n"))).To(Equal([]string{"data: x", ""}))
		})

		It("strips a carriage return that arrives in a separate chunk from its newline", func() {
			Expect(decodeAll([]byte("data: x\r"), []byte("\n"))).To(Equal([]string{"data: x", ""}))
		})

		It("withholds a multi-byte character split across chunks", func() {
			raw := []byte("chào\n")
			// "à" is two bytes; split between them.
			d := sse.NewDecoder()
			Expect(d.Decode(raw[:3])).To(BeEmpty())
			Expect(d.Buffered()).To(Equal("ch"))
			Expect(d.Decode(raw[3:])).To(Equal([]string{"chào"}))
		})

		It("ignores an empty chunk", func() {
			d := sse.NewDecoder()
			Expect(d.Decode(nil)).To(BeEmpty())
			Expect(d.Buffered()).To(BeEmpty())
		})
	})

	Describe("Flush", func() {
		It("returns the remainder as a final line", func() {
			Expect(decodeAll([]byte("a\nb"))).To(Equal([]string{"a", "b"}))
		})

		It("returns an empty final line when the stream ended on a newline", func() {
			Expect(decodeAll([]byte("a\n"))).To(Equal([]string{"a", ""}))
		})

		It("replaces a truncated character with U+FFFD", func() {
			raw := []byte("chà")
			Expect(decodeAll(raw[:3])).To(Equal([]string{"ch�"}))
		})

		It("resets the decoder for reuse", func() {
			d := sse.NewDecoder()
			d.Decode([]byte("left over"))
			d.Flush()
			Expect(d.Buffered()).To(BeEmpty())
			Expect(d.Decode([]byte("fresh\n"))).To(Equal([]string{"fresh"}))
		})
	})

	Describe("chunk boundary independence", func() {
		stream := []byte("data: {\"event\":\"message\",\"answer\":\"Xin\"}\n\n" +
			"data: {\"event\":\"message\",\"answer\":\" chào 🌏\"}\r\n\r\n" +
			"data: {\"event\":\"message_end\",\"conversation_id\":\"c1\"}\n\ntail")

		It("yields identical lines for every two-way split", func() {
			want := decodeAll(stream)
			for i := 0; i <= len(stream); i++ {
				Expect(decodeAll(stream[:i], stream[i:])).To(Equal(want), "split at %d", i)
			}
		})

		It("yields identical lines for every three-way split", func() {
			want := decodeAll(stream)
			for i := 0; i <= len(stream); i += 3 {
				for j := i; j <= len(stream); j += 5 {
					Expect(decodeAll(stream[:i], stream[i:j], stream[j:])).To(Equal(want), "split at %d and %d", i, j)
				}
			}
		})

		It("yields identical lines when fed one byte at a time", func() {
			want := decodeAll(stream)
			chunks := make([][]byte, 0, len(stream))
			for i := range stream {
				chunks = append(chunks, stream[i:i+1])
			}
			Expect(decodeAll(chunks...)).To(Equal(want))
		})
	})
})

var _ = Describe("Payload", func() {
	It("returns the text after the data prefix", func() {
		payload, ok := sse.Payload(`data: {"type":"chunk"}`)
		Expect(ok).To(BeTrue())
		Expect(payload).To(Equal(`{"type":"chunk"}`))
	})

	It("rejects lines without the prefix", func() {
		for _, line := range []string{"", "event: ping", ": comment", "data:{}", "id: 4"} {
			_, ok := sse.Payload(line)
			Expect(ok).To(BeFalse(), line)
		}
	})
})
