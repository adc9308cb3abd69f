package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vipm/backend/internal/bootstrap"
	"github.com/vipm/backend/internal/infrastructure/config"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand(load).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}

// load wires the engine the same way the server does, without telemetry
func load(ctx context.Context, opts *cli.RootOptions) (*cli.Runtime, error) {
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&logger.Config{
		Level:      opts.LogLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "15:04:05",
	})
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("service", "vipmctl"))

	engine, err := bootstrap.Build(ctx, cfg, nil, log)
	if err != nil {
		_ = logger.Sync(log)
		return nil, err
	}

	return &cli.Runtime{
		Fulfiller:  engine.Dispatcher,
		Reconciler: engine.Reconciler,
		Transfers:  engine.Transfers,
		ProductIDs: cfg.Fulfillment.ProductIDs,
		Close: func() error {
			defer func() { _ = logger.Sync(log) }()
			return engine.Close()
		},
	}, nil
}
