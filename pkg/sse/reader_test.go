package sse_test

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/sse"
)

func readAll(r *sse.LineReader) ([]string, error) {
	var lines []string
	for {
		line, err := r.Next()
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

var _ = Describe("LineReader", func() {
	Describe("Next", func() {
		It("yields lines followed by the flushed remainder", func() {
			r := sse.NewLineReader(strings.NewReader("data: a\n\ndata: b\n\n"))
			lines, err := readAll(r)
			Expect(err).To(MatchError(io.EOF))
			Expect(lines).To(Equal([]string{"data: a", "", "data: b", "", ""}))
		})

		It("yields the same lines from a one-byte reader", func() {
			src := "data: {\"answer\":\"Xin chào\"}\n\nevent: ping\n\n"
			want, _ := readAll(sse.NewLineReader(strings.NewReader(src)))
			got, err := readAll(sse.NewLineReader(iotest.OneByteReader(strings.NewReader(src))))
			Expect(err).To(MatchError(io.EOF))
			Expect(got).To(Equal(want))
		})

		It("keeps returning io.EOF once exhausted", func() {
			r := sse.NewLineReader(strings.NewReader(""))
			line, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(BeEmpty())

			_, err = r.Next()
			Expect(err).To(MatchError(io.EOF))
			_, err = r.Next()
			Expect(err).To(MatchError(io.EOF))
		})

		It("returns decoded lines before a read error and drops the remainder", func() {
			boom := errors.New("connection reset")
			src := io.MultiReader(strings.NewReader("data: a\ndata: partial"), iotest.ErrReader(boom))
			lines, err := readAll(sse.NewLineReader(src))
			Expect(err).To(MatchError(boom))
			Expect(lines).To(Equal([]string{"data: a"}))
		})
	})
})
