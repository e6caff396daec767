package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/kehilla/internal/app"
	"github.com/dmitrijs2005/kehilla/internal/cli"
	"github.com/dmitrijs2005/kehilla/internal/config"
	"github.com/dmitrijs2005/kehilla/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	// The shell owns stdout, so logs go to stderr.
	logger := logging.NewJSON(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := a.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	s, err := cli.Stdio(a)
	if err != nil {
		log.Fatalf("%v", err)
	}
	s.Run(ctx)
}
