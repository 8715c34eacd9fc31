package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/app"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	slog.Info("round engine starting",
		"config", *configPath,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"interval", cfg.Interval(),
		"reveal", cfg.Reveal(),
		"games", len(a.Games.List()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server().Run(gctx) })
	g.Go(func() error { return a.Announce(gctx) })
	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	slog.Info("round engine stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
