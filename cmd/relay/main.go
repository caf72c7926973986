package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/relay"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup(cfg.ServiceName + "-relay")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &relay.Service{
		Dedup: &redisx.Deduper{RDB: rdb, Service: "relay"},
		Feed:  &redisx.ChangeFeed{RDB: rdb},
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RelayGroup, orders.TopicOrderChanges, cfg.RelayWorkers)
	log.Printf("relay consumer started: group=%s topic=%s workers=%d", cfg.RelayGroup, orders.TopicOrderChanges, cfg.RelayWorkers)
	if err := cons.Start(ctx, svc.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer exit: %v", err)
	}
	log.Println("relay stopped")
}
