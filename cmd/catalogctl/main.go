package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/catalogo-pos/catalogo/cmd/catalogctl/cli"
	"github.com/catalogo-pos/catalogo/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := cli.Env{
		OpenSyncer: func(ctx context.Context) (cli.Syncer, func() error, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			services, err := app.BuildServices(ctx, cfg, app.NewLogger(cfg), nil)
			if err != nil {
				return nil, nil, err
			}
			return services.Engine, services.Close, nil
		},
		OpenStatus: func(ctx context.Context) (cli.StatusReader, func() error, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			services, err := app.BuildServices(ctx, cfg, app.NewLogger(cfg), nil)
			if err != nil {
				return nil, nil, err
			}
			return services.Store, services.Close, nil
		},
		OpenQueue: func(ctx context.Context) (cli.Queue, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			if cfg.RedisAddr == "" {
				return nil, fmt.Errorf("REDIS_ADDR is required for queue commands")
			}
			return cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		},
	}

	if err := cli.NewRootCommand(env).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
