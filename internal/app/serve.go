package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skywatch.live/sentinel/internal/cli"
	"skywatch.live/sentinel/internal/config"
	"skywatch.live/sentinel/internal/db"
	"skywatch.live/sentinel/internal/httpapi"
	"skywatch.live/sentinel/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "Listen address override (defaults to SW_LISTEN_ADDR)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return 1
	}
	defer pool.Close()

	resolver, store := buildResolver(cfg, pool, logger)

	listenAddr := cfg.ListenAddr
	if *addr != "" {
		listenAddr = *addr
	}

	server := httpapi.NewServer(resolver, store, logger, httpapi.Options{
		Addr:            listenAddr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	})

	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return 1
	}
	return 0
}
