package event_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/event"
)

var _ = Describe("Encode", func() {
	It("encodes a delta as a chunk frame", func() {
		ev := event.Delta("Xin")
		ev.ConversationID = "c1"
		b, err := event.Encode(ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(MatchJSON(`{"type":"chunk","content":"Xin","conversationId":"c1"}`))
	})

	It("encodes a complete as an end frame with an empty answer", func() {
		b, err := event.Encode(event.Complete("c1", ""))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(MatchJSON(`{"type":"end","conversationId":"c1","fullResponse":""}`))
	})

	It("omits an empty failure code", func() {
		b, err := event.Encode(event.Failure("", "boom"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(MatchJSON(`{"type":"error","error":"boom"}`))
	})

	It("keeps markup characters unescaped and on one line", func() {
		b, err := event.Encode(event.Delta("<b>a</b>\nb & c"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring(`<b>a</b>\nb & c`))
		Expect(string(b)).NotTo(ContainSubstring("\n"))
	})

	It("rejects an event without a kind", func() {
		_, err := event.Encode(event.Event{})
		Expect(err).To(MatchError(event.ErrUnknownKind))
	})
})

var _ = Describe("Decode", func() {
	It("decodes each frame type", func() {
		ev, err := event.Decode([]byte(`{"type":"chunk","content":" chào","conversationId":"c1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(event.KindDelta))
		Expect(ev.Text).To(Equal(" chào"))

		ev, err = event.Decode([]byte(`{"type":"end","conversationId":"c1","fullResponse":"Xin chào"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(Equal(event.Complete("c1", "Xin chào")))
		Expect(ev.Terminal()).To(BeTrue())

		ev, err = event.Decode([]byte(`{"type":"error","error":"rate limited","code":"upstream_status"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(Equal(event.Failure(event.CodeUpstreamStatus, "rate limited")))
	})

	It("rejects unknown frame types", func() {
		_, err := event.Decode([]byte(`{"type":"ping"}`))
		Expect(err).To(MatchError(event.ErrUnknownFrame))
	})

	It("rejects malformed JSON", func() {
		_, err := event.Decode([]byte(`{"type":`))
		Expect(err).To(HaveOccurred())
	})

	It("round-trips what Encode produces", func() {
		for _, ev := range []event.Event{
			{Kind: event.KindDelta, Text: "**a**", ConversationID: "c9"},
			event.Complete("c9", "**a**"),
			event.Failure(event.CodeStreamIncomplete, "ended early"),
		} {
			b, err := event.Encode(ev)
			Expect(err).NotTo(HaveOccurred())
			got, err := event.Decode(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(ev))
		}
	})
})
