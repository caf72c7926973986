package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/config"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/hub"
	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/listener"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/localqueue"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/menu"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/notify"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/syncer"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup(cfg.ServiceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, false)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.SnapshotCache{RDB: rdb}

	// Kafka producers: committed changes and sync lifecycle
	changesProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderChanges, 1024)
	changesProd.Start(ctx)
	syncProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderSync, 256)
	syncProd.Start(ctx)

	repo := &orders.Repo{DB: db, Changes: &kafkax.ChangePublisher{Out: changesProd, Service: cfg.ServiceName}}

	var dir menu.Directory = &menu.PGDirectory{DB: db}
	if cfg.MenuFile != "" {
		f, err := menu.LoadFile(cfg.MenuFile)
		if err != nil {
			log.Fatalf("menu file: %v", err)
		}
		dir = f.Directory()
		log.Printf("menu loaded from %s items=%d", cfg.MenuFile, len(f.Items))
	}

	provider, err := notify.New(cfg.Notifier, notify.Config{
		WebhookURL:   cfg.WebhookURL,
		WebhookToken: cfg.WebhookToken,
		AMQPURL:      cfg.AMQPURL,
	})
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}
	if c, ok := provider.(interface{ Close() }); ok {
		defer c.Close()
	}

	engine := fulfillment.New(repo, dir, &notify.Notifier{Provider: provider, Template: cfg.PickupMessage})
	engine.Timeout = cfg.OpTimeout

	queue, err := localqueue.Open(cfg.QueuePath)
	if err != nil {
		log.Fatalf("local queue: %v", err)
	}
	defer queue.Close()

	mgr := syncer.New(repo, queue, syncer.Config{
		Interval:      cfg.SyncInterval,
		ProbeInterval: cfg.ProbeInterval,
		PushTimeout:   cfg.OpTimeout,
	})
	screens := hub.New()

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Engine: engine, Sync: mgr, Cache: cache, Hub: screens, ServeCached: cfg.RestaurantID != ""}
	oh.Register(router)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error {
		forwardSyncEvents(gctx, mgr, &kafkax.SyncPublisher{Out: syncProd, Service: cfg.ServiceName}, screens, cfg.RestaurantID)
		return nil
	})

	if cfg.RestaurantID != "" {
		l := listener.New(cfg.RestaurantID, &redisx.ChangeFeed{RDB: rdb}, func(ctx context.Context, ids []string) error {
			views, err := engine.Refresh(ctx, cfg.RestaurantID, ids)
			for _, v := range views {
				if cerr := cache.Put(ctx, v.Order.ID, v); cerr != nil {
					log.Printf("view cache put order=%s: %v", v.Order.ID, cerr)
				}
			}
			if len(views) > 0 {
				if perr := screens.Publish(cfg.RestaurantID, hub.MessageOrders, views); perr != nil {
					log.Printf("hub publish: %v", perr)
				}
			}
			return err
		}, cfg.RefreshDelay)
		g.Go(func() error { return l.Run(gctx) })
	} else {
		log.Printf("RESTAURANT_ID not set; change listener disabled")
	}

	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}
	changesProd.Close() // close inbox -> flush & close writer
	syncProd.Close()
	changesProd.WaitClosed()
	syncProd.WaitClosed()
}

// forwardSyncEvents publishes sync lifecycle events to Kafka and to the
// restaurant's screens until ctx is done.
func forwardSyncEvents(ctx context.Context, mgr *syncer.Manager, out *kafkax.SyncPublisher, screens *hub.Hub, restaurantID string) {
	events, unsubscribe := mgr.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := out.PublishSync(ctx, ev.Type, ev.ClientID, ev); err != nil {
				log.Printf("publish %s client_id=%s: %v", ev.Type, ev.ClientID, err)
			}
			if restaurantID != "" {
				if err := screens.Publish(restaurantID, hub.MessageSync, ev); err != nil {
					log.Printf("hub publish: %v", err)
				}
			}
		}
	}
}
