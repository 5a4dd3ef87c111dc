package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"MarketPulse/internal/di"
	"MarketPulse/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	// flags win over the environment, which wins over the file
	if p := cmd.String("provider"); p != "" {
		_ = os.Setenv("MP_PROVIDER", p)
	}
	if s := cmd.String("symbols"); s != "" {
		_ = os.Setenv("MP_SYMBOLS", s)
	}
	cfg, err := config.LoadWithEnv(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log.Printf("env=%s provider=%s symbols=%v", cfg.Environment, cfg.Market.Provider, cfg.Market.Symbols)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// blocks until signal
	return app.Run(ctx)
}

func main() {
	cmd := &cli.Command{
		Name:  "marketpulse",
		Usage: "Real-time market data, technicals and alert engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file `PATH`",
				Value:   "config/config.yaml",
				Sources: cli.EnvVars("MP_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "override market.provider (streaming, polling or simulated)",
			},
			&cli.StringFlag{
				Name:  "symbols",
				Usage: "comma separated symbols to track at startup",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
