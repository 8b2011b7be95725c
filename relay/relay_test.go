package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/session"
	"github.com/papercomputeco/relay/pkg/session/inmemory"
	"github.com/papercomputeco/relay/pkg/upstream"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.ExchangeCompletedEvent
}

func (p *recordingPublisher) PublishExchange(_ context.Context, e *eventstream.ExchangeCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []*eventstream.ExchangeCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.ExchangeCompletedEvent(nil), p.events...)
}

// sseUpstream serves lines as an upstream event stream and records the
// request bodies it receives.
func sseUpstream(requests chan<- map[string]any, lines ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if requests != nil {
			requests <- body
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line+"\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

var _ = Describe("Relay", func() {
	var (
		r         *Relay
		store     *inmemory.Store
		publisher *recordingPublisher
		collector *metrics.Collector
		up        *httptest.Server
		requests  chan map[string]any
	)

	newRelay := func(url string) {
		var err error
		store = inmemory.NewStore()
		publisher = &recordingPublisher{}
		collector = metrics.NewCollector("", nil)
		r, err = New(Config{
			ListenAddr: ":0",
			Upstream:   upstream.Config{URL: url},
			Publisher:  publisher,
			Metrics:    collector,
			Version:    "test",
		}, store, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	}

	// send posts body to /api/chat and returns the status and decoded frames.
	send := func(body string) (int, []event.Event) {
		resp, err := r.server.Test(chatRequest(body), -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
		return resp.StatusCode, decodeFrames(string(b))
	}

	BeforeEach(func() {
		requests = make(chan map[string]any, 4)
	})

	AfterEach(func() {
		if r != nil {
			r.Close()
			r = nil
		}
		if up != nil {
			up.Close()
			up = nil
		}
	})

	Describe("New", func() {
		It("requires an upstream URL", func() {
			_, err := New(Config{}, inmemory.NewStore(), logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("upstream URL")))
		})

		It("requires a session store", func() {
			_, err := New(Config{Upstream: upstream.Config{URL: "http://localhost:1"}}, nil, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("session store")))
		})
	})

	Describe("GET /api/health", func() {
		It("reports status and version", func() {
			newRelay("http://127.0.0.1:1")
			resp, err := r.server.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var health HealthResponse
			Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
			Expect(health.Status).To(Equal("OK"))
			Expect(health.Version).To(Equal("test"))
			Expect(health.Timestamp).To(MatchRegexp(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`))
		})
	})

	Describe("POST /api/chat", func() {
		Context("with an invalid request", func() {
			BeforeEach(func() {
				newRelay("http://127.0.0.1:1")
			})

			It("rejects a malformed body", func() {
				status, _ := send(`{"message":`)
				Expect(status).To(Equal(http.StatusBadRequest))
			})

			It("rejects a blank message", func() {
				resp, err := r.server.Test(chatRequest(`{"message":"   "}`), -1)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				var body ErrorResponse
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(Equal("message must not be empty"))
			})

			It("rejects a conversation id with control characters", func() {
				status, _ := send(`{"message":"hi","conversationId":"a\u0007b"}`)
				Expect(status).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when an agent streams its answer", func() {
			BeforeEach(func() {
				up = sseUpstream(requests,
					`data: {"event":"agent_message","answer":"Xin"}`,
					`data: {"event":"agent_message","answer":" chào"}`,
					`data: {"event":"message_end","conversation_id":"c1"}`,
					`data: {"event":"agent_message","answer":" again"}`,
				)
				newRelay(up.URL)
			})

			It("emits two chunks and an end frame for c1", func() {
				_, frames := send(`{"message":"Hello"}`)
				Expect(frames).To(Equal([]event.Event{
					{Kind: event.KindDelta, Text: "Xin", ConversationID: frames[0].ConversationID},
					{Kind: event.KindDelta, Text: " chào", ConversationID: frames[0].ConversationID},
					event.Complete("c1", "Xin chào"),
				}))
			})
		})

		Context("when the upstream streams an answer", func() {
			BeforeEach(func() {
				up = sseUpstream(requests,
					`data: {"event":"workflow_started","conversation_id":"up-1"}`,
					`data: {"event":"message","answer":"Xin ","conversation_id":"up-1"}`,
					`event: ping`,
					`data: {"event":"message","answer":"chào","conversation_id":"up-1"}`,
					`data: {"event":"message_end","conversation_id":"up-1"}`,
					`data: {"event":"message","answer":"ignored"}`,
				)
				newRelay(up.URL)
			})

			It("forwards deltas and ends with the full answer", func() {
				status, frames := send(`{"message":"Hello"}`)
				Expect(status).To(Equal(http.StatusOK))
				Expect(frames).To(HaveLen(3))

				Expect(frames[0].Kind).To(Equal(event.KindDelta))
				Expect(frames[0].Text).To(Equal("Xin "))
				Expect(frames[1].Text).To(Equal("chào"))
				Expect(frames[2].Kind).To(Equal(event.KindComplete))
				Expect(frames[2].ConversationID).To(Equal("up-1"))
				Expect(frames[2].FullText).To(Equal("Xin chào"))
			})

			It("sends the upstream a generated user and no conversation id", func() {
				send(`{"message":"Hello"}`)

				var body map[string]any
				Eventually(requests).Should(Receive(&body))
				Expect(body["query"]).To(Equal("Hello"))
				Expect(body["response_mode"]).To(Equal("streaming"))
				Expect(body["conversation_id"]).To(Equal(""))
				Expect(body["user"]).To(HavePrefix(userIDPrefix))
			})

			It("keeps the exchange under the upstream conversation id", func() {
				send(`{"message":"Hello"}`)

				resp, err := r.server.Test(httptest.NewRequest(http.MethodGet, "/api/conversation/up-1", nil), -1)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var conv ConversationResponse
				Expect(json.NewDecoder(resp.Body).Decode(&conv)).To(Succeed())
				Expect(conv.ConversationID).To(Equal("up-1"))
				Expect(conv.Messages).To(HaveLen(2))
				Expect(conv.Messages[0].Role).To(Equal(string(session.RoleUser)))
				Expect(conv.Messages[0].Content).To(Equal("Hello"))
				Expect(conv.Messages[1].Role).To(Equal(string(session.RoleAssistant)))
				Expect(conv.Messages[1].Content).To(Equal("Xin chào"))
			})

			It("publishes the completed exchange", func() {
				send(`{"message":"Hello","userId":"alice"}`)

				Eventually(publisher.published).Should(HaveLen(1))
				published := publisher.published()[0]
				Expect(published.ConversationID).To(Equal("up-1"))
				Expect(published.UserID).To(Equal("alice"))
				Expect(published.Query).To(Equal("Hello"))
				Expect(published.Answer).To(Equal("Xin chào"))
				Expect(published.RequestMeta.DeltaCount).To(Equal(2))
			})

			It("passes a supplied conversation id through to the upstream", func() {
				_, err := store.Create(context.Background(), "up-1", "alice")
				Expect(err).NotTo(HaveOccurred())

				send(`{"message":"Again","conversationId":"up-1","userId":"alice"}`)

				var body map[string]any
				Eventually(requests).Should(Receive(&body))
				Expect(body["conversation_id"]).To(Equal("up-1"))
				Expect(body["user"]).To(Equal("alice"))

				sess, err := store.Get(context.Background(), "up-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(sess.Messages).To(HaveLen(2))
			})
		})

		Context("when the upstream reports an error mid-stream", func() {
			BeforeEach(func() {
				up = sseUpstream(nil,
					`data: {"event":"message","answer":"partial"}`,
					`data: {"event":"error","message":"quota exceeded","status":429}`,
					`data: {"event":"message","answer":"never"}`,
				)
				newRelay(up.URL)
			})

			It("forwards the failure and nothing after it", func() {
				_, frames := send(`{"message":"Hello"}`)
				Expect(frames).To(HaveLen(2))
				Expect(frames[1].Kind).To(Equal(event.KindFailure))
				Expect(frames[1].Code).To(Equal(event.CodeUpstreamError))
				Expect(frames[1].Message).To(Equal("quota exceeded"))
				Expect(publisher.published()).To(BeEmpty())
			})
		})

		Context("when the upstream stream ends without a terminal event", func() {
			BeforeEach(func() {
				up = sseUpstream(nil, `data: {"event":"message","answer":"cut"}`)
				newRelay(up.URL)
			})

			It("ends the exchange with an incomplete failure", func() {
				_, frames := send(`{"message":"Hello"}`)
				Expect(frames).To(HaveLen(2))
				Expect(frames[1].Kind).To(Equal(event.KindFailure))
				Expect(frames[1].Code).To(Equal(event.CodeStreamIncomplete))
			})
		})

		Context("when the upstream rejects the request", func() {
			BeforeEach(func() {
				up = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					fmt.Fprint(w, `{"code":"unauthorized","message":"Access token is invalid"}`)
				}))
				newRelay(up.URL)
			})

			It("answers with a single status failure frame", func() {
				status, frames := send(`{"message":"Hello"}`)
				Expect(status).To(Equal(http.StatusOK))
				Expect(frames).To(HaveLen(1))
				Expect(frames[0].Kind).To(Equal(event.KindFailure))
				Expect(frames[0].Code).To(Equal(event.CodeUpstreamStatus))
				Expect(frames[0].Message).To(ContainSubstring("Access token is invalid"))
			})
		})

		Context("when the upstream is unreachable", func() {
			BeforeEach(func() {
				newRelay("http://127.0.0.1:1")
			})

			It("answers with a single unreachable failure frame", func() {
				_, frames := send(`{"message":"Hello"}`)
				Expect(frames).To(HaveLen(1))
				Expect(frames[0].Code).To(Equal(event.CodeUpstreamUnreachable))
			})

			It("still records the user message", func() {
				_, err := store.Create(context.Background(), "c-1", "bob")
				Expect(err).NotTo(HaveOccurred())

				send(`{"message":"Hello","conversationId":"c-1"}`)

				sess, err := store.Get(context.Background(), "c-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(sess.Messages).To(HaveLen(1))
				Expect(sess.Messages[0].Role).To(Equal(session.RoleUser))
			})
		})
	})

	Describe("GET /api/conversation/:conversationId", func() {
		It("returns 404 for an unknown conversation", func() {
			newRelay("http://127.0.0.1:1")
			resp, err := r.server.Test(httptest.NewRequest(http.MethodGet, "/api/conversation/nope", nil), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var body ErrorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(body.Error).To(Equal("conversation not found"))
		})
	})

	Context("when the client goes away mid-answer", func() {
		var upstreamDone chan struct{}

		BeforeEach(func() {
			upstreamDone = make(chan struct{})
			up = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				defer close(upstreamDone)

				w.Header().Set("Content-Type", "text/event-stream")
				flusher := w.(http.Flusher)
				ticker := time.NewTicker(20 * time.Millisecond)
				defer ticker.Stop()

				for {
					select {
					case <-req.Context().Done():
						return
					case <-ticker.C:
						fmt.Fprint(w, `data: {"event":"message","answer":"tick"}`+"\n\n")
						flusher.Flush()
					}
				}
			}))
			newRelay(up.URL)
		})

		It("closes the upstream stream and records the abandoned exchange", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() { _ = r.RunWithListener(ln) }()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				"http://"+ln.Addr().String()+"/api/chat", strings.NewReader(`{"message":"Hello"}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())

			lines := bufio.NewReader(resp.Body)
			for frames := 0; frames < 2; {
				line, err := lines.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				if strings.HasPrefix(line, "data: ") {
					Expect(line).To(ContainSubstring(`"content":"tick"`))
					frames++
				}
			}

			cancel()
			resp.Body.Close()

			Eventually(upstreamDone, 5*time.Second).Should(BeClosed())
			Eventually(func() error {
				return testutil.GatherAndCompare(collector.Registry(), strings.NewReader(`
# HELP relay_exchanges_total Chat exchanges relayed, by outcome and failure code.
# TYPE relay_exchanges_total counter
relay_exchanges_total{code="",outcome="client_closed"} 1
`), "relay_exchanges_total")
			}, 5*time.Second).Should(Succeed())
			Expect(publisher.published()).To(BeEmpty())
		})
	})

	Describe("GET /metrics", func() {
		It("exposes exchange counters", func() {
			up = sseUpstream(nil,
				`data: {"event":"message","answer":"a"}`,
				`data: {"event":"message_end"}`,
			)
			newRelay(up.URL)
			send(`{"message":"Hello"}`)

			resp, err := r.server.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			b, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(ContainSubstring(`relay_exchanges_total{code="",outcome="complete"} 1`))
		})
	})
})

var _ = Describe("classifyOpenError", func() {
	It("maps status, timeout and transport errors to failure codes", func() {
		code, msg := classifyOpenError(&upstream.StatusError{StatusCode: 502, Message: "bad gateway"}, 0)
		Expect(code).To(Equal(event.CodeUpstreamStatus))
		Expect(msg).To(ContainSubstring("bad gateway"))

		code, msg = classifyOpenError(fmt.Errorf("%w: dial", upstream.ErrTimeout), 0)
		Expect(code).To(Equal(event.CodeUpstreamTimeout))
		Expect(msg).To(ContainSubstring("30s"))

		code, _ = classifyOpenError(io.ErrUnexpectedEOF, 0)
		Expect(code).To(Equal(event.CodeUpstreamUnreachable))
	})
})
