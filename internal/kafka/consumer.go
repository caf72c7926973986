package kafka

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil only when the message is done and its offset may be
// committed.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int

	RetryInitial time.Duration
	RetryMax     time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers)
}

func newConsumer(r reader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, RetryInitial: 500 * time.Millisecond, RetryMax: 30 * time.Second}
}

// Start fetches messages and spreads them over workers lanes by partition, so
// one partition is always handled in order by one lane. A failing message is
// retried with backoff until it succeeds or ctx ends; later messages of its
// partition wait behind it and nothing past it is committed.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	g, gctx := errgroup.WithContext(ctx)
	lanes := make([]chan kafka.Message, c.workers)
	for i := range lanes {
		lane := make(chan kafka.Message, 64)
		lanes[i] = lane
		g.Go(func() error {
			for m := range lane {
				if err := c.handle(gctx, m, h); err != nil {
					return nil
				}
			}
			return nil
		})
	}

	var err error
	for {
		var m kafka.Message
		m, err = c.r.FetchMessage(gctx)
		if err != nil {
			break
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-gctx.Done():
		}
	}
	for _, lane := range lanes {
		close(lane)
	}
	werr := g.Wait()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return werr
	}
	return err
}

// handle runs h until it succeeds, then commits m. It fails only when ctx ends.
func (c *Consumer) handle(ctx context.Context, m kafka.Message, h Handler) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInitial
	b.MaxInterval = c.RetryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, m)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0), // until ctx ends
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("consume topic=%s partition=%d offset=%d: %v (retry in %s)", m.Topic, m.Partition, m.Offset, err, next)
		}),
	)
	if err != nil {
		return err
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Printf("commit offset=%d: %v", m.Offset, err)
	}
	return nil
}
