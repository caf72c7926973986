package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/cli"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/config"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	remote := func(ctx context.Context) (orders.RemoteStore, func(), error) {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, true)
		if err != nil {
			return nil, nil, err
		}
		return &orders.Repo{DB: db}, db.Close, nil
	}

	if err := cli.NewRootCommand(cfg.QueuePath, remote).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "posctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
