// Package kafka publishes exchange events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/relay/pkg/eventstream"
)

const (
	// DefaultTopic receives exchange events when no topic is configured.
	DefaultTopic = "relay.exchanges"

	headerEventType     = "event_type"
	headerSchemaVersion = "schema_version"
)

// ErrNoBrokers is returned when no broker addresses are configured.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Config configures a Publisher.
type Config struct {
	// Brokers are host:port broker addresses.
	Brokers []string

	// Topic receives the events.
	Topic string

	// BatchTimeout bounds how long a message waits for a batch to fill.
	BatchTimeout time.Duration
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// messageWriter is the subset of *kafkago.Writer the Publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes exchange events as JSON messages keyed by conversation
// id, so every event of one conversation lands on the same partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher returns a Publisher writing to cfg.Topic.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
	}, nil
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishExchange writes event synchronously.
func (p *Publisher) PublishExchange(ctx context.Context, event *eventstream.ExchangeCompletedEvent) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing exchange event to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message encodes event as a Kafka message.
func Message(event *eventstream.ExchangeCompletedEvent) (kafkago.Message, error) {
	if event == nil {
		return kafkago.Message{}, eventstream.ErrNilExchangeEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding exchange event: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: headerEventType, Value: []byte(event.EventType)},
			{Key: headerSchemaVersion, Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}, nil
}
