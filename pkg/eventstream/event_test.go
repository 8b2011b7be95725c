package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals ExchangeCompletedEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.NewExchangeCompletedEvent("c1", "web-user-1", "Xin chào", "Chào bạn", eventstream.ExchangeMeta{
			Upstream:    "http://localhost:5001/v1/chat-messages",
			StartedAt:   now.Add(-2 * time.Second),
			CompletedAt: now,
			DeltaCount:  4,
		})

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKeyWithValue("event_type", eventstream.EventTypeExchangeCompleted))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKeyWithValue("conversation_id", "c1"))
		Expect(got).To(HaveKeyWithValue("answer", "Chào bạn"))
		Expect(got).To(HaveKey("request_meta"))
		Expect(event.RequestMeta.DurationMs).To(Equal(int64(2000)))
	})

	It("assigns a unique id to every event", func() {
		a := eventstream.NewExchangeCompletedEvent("c1", "u", "q", "a", eventstream.ExchangeMeta{})
		b := eventstream.NewExchangeCompletedEvent("c1", "u", "q", "a", eventstream.ExchangeMeta{})
		Expect(a.EventID).NotTo(Equal(b.EventID))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeExchangeCompleted).To(Equal("relay.exchange.completed"))
	})

	It("provides ErrNilExchangeEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilExchangeEvent).To(MatchError("nil exchange event"))
	})
})
