// Package relay moves committed order changes from Kafka onto the per
// restaurant Redis channels the listeners subscribe to.
package relay

import (
	"context"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Feed interface {
	Publish(ctx context.Context, ev orders.ChangeEvent) error
}

type Service struct {
	Dedup Deduper
	Feed  Feed
}

// HandleChange is installed as the consumer handler. Redeliveries of one event
// are published once; a failed publish releases the claim and the consumer
// retries the message before committing it.
func (s *Service) HandleChange(ctx context.Context, m kafkago.Message) error {
	ev, err := kafkax.DecodeChange(m.Value)
	if err != nil {
		// poison message: commit and move on
		log.Printf("relay: skip offset=%d: %v", m.Offset, err)
		return nil
	}
	if ev.RestaurantID == "" {
		log.Printf("relay: skip event=%s: no restaurant", ev.EventID)
		return nil
	}

	if ev.EventID != "" && s.Dedup != nil {
		first, err := s.Dedup.First(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	if err := s.Feed.Publish(ctx, ev); err != nil {
		if ev.EventID != "" && s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, ev.EventID); ferr != nil {
				log.Printf("relay: forget event=%s: %v", ev.EventID, ferr)
			}
		}
		return err
	}
	return nil
}
