// Package publish streams finalized pipeline events to Kafka so downstream
// consumers (dashboards, warehouses) get them without polling the store.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/retailsense/venueflow/internal/events"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
)

// Event types carried in the envelope.
const (
	EventVisit = "visit"
	EventQueue = "queue_session"
	EventAlert = "alert"
)

// Envelope wraps every outbound event with its type so consumers can route
// on one topic.
type Envelope struct {
	Type    string          `json:"type"`
	VenueID string          `json:"venue_id"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher writes envelopes to one Kafka topic, keyed by zone so per-zone
// ordering survives partitioning. Bus handlers enqueue without blocking the
// pipeline; a full queue drops the oldest-style overflow with a log line.
type Publisher struct {
	writer  *kafka.Writer
	venueID string
	queue   chan kafka.Message
}

// New creates a publisher for the given brokers and topic.
func New(brokers []string, topic, venueID string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		venueID: venueID,
		queue:   make(chan kafka.Message, 256),
	}
}

// Attach subscribes the publisher to the event bus.
func (p *Publisher) Attach(bus *events.Bus) {
	bus.SubscribeVisit(func(v store.Visit) {
		p.enqueue(EventVisit, v.ZoneID, v)
	})
	bus.SubscribeQueue(func(q store.QueueRecord) {
		p.enqueue(EventQueue, q.QueueZoneID, q)
	})
	bus.SubscribeAlert(func(e store.LedgerEntry) {
		p.enqueue(EventAlert, e.ZoneID, e)
	})
}

func (p *Publisher) enqueue(eventType, key string, payload any) {
	msg, err := encodeEnvelope(eventType, p.venueID, key, payload)
	if err != nil {
		monitoring.Logf("publish: encode %s: %v", eventType, err)
		return
	}
	select {
	case p.queue <- msg:
	default:
		monitoring.Logf("publish: queue full, dropping %s for %s", eventType, key)
	}
}

func encodeEnvelope(eventType, venueID, key string, payload any) (kafka.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(Envelope{Type: eventType, VenueID: venueID, Payload: raw})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(key), Value: value}, nil
}

// Run drains the queue into Kafka until ctx is cancelled, then flushes
// whatever is still queued.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case msg := <-p.queue:
			p.write(ctx, msg)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.write(context.Background(), msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		monitoring.Logf("publish: write: %v", err)
	}
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
