package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Printf("kafka write topic=%s n=%d: %v", topic, len(msgs), err)
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close; remaining messages are flushed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer p.w.Close()
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				log.Printf("kafka write key=%s: %v", m.Key, err)
			}
		}
	}()
}

// Publish queues a message. It fails instead of blocking when ctx ends first.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() { close(p.inbox) }

func (p *Producer) WaitClosed() { <-p.closeCh }

// Sender is the part of Producer the publishers need.
type Sender interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// ChangePublisher puts committed order writes on the change topic, keyed by
// restaurant so one restaurant's changes stay ordered.
type ChangePublisher struct {
	Out     Sender
	Service string
}

func (c *ChangePublisher) PublishChange(ctx context.Context, ev orders.ChangeEvent) error {
	env, err := NewEnvelope(orders.EventOrderChanged, c.Service, ev.OrderID, ev)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.Out.Publish(ctx, orders.PartitionKey(ev.RestaurantID), b, eventHeaders(orders.EventOrderChanged)...)
}

// SyncPublisher forwards sync lifecycle events keyed by client id.
type SyncPublisher struct {
	Out     Sender
	Service string
}

func (s *SyncPublisher) PublishSync(ctx context.Context, eventType, clientID string, payload any) error {
	env, err := NewEnvelope(eventType, s.Service, clientID, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.Out.Publish(ctx, []byte(clientID), b, eventHeaders(eventType)...)
}

func eventHeaders(eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
}
