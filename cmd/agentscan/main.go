package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentscan/internal/app"
	"agentscan/internal/config"
)

var (
	configFile = flag.String("config", "", "config file path (empty runs on embedded defaults plus environment)")
	logLevel   = flag.String("log-level", "", "log level override: debug, info, warn, error")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// level backs every handler so config reloads adjust verbosity without
// swapping loggers.
var level slog.LevelVar

func main() {
	flag.Parse()

	setupLogging("info", "text")

	loader := config.NewLoader(*configFile)
	cfg, err := loader.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	lvl := cfg.Logging.Level
	if *logLevel != "" {
		lvl = *logLevel
	}
	setupLogging(lvl, cfg.Logging.Format)

	server, err := app.NewServer(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *configFile != "" {
		wcfg := config.DefaultWatcherConfig()
		wcfg.OnChange = func(next *config.Config) error {
			// Listener and upstream changes need a restart; the log
			// level applies immediately.
			applyLevel(next.Logging.Level)
			slog.Info("Configuration reloaded", "level", next.Logging.Level)
			return nil
		}
		watcher, err := config.NewWatcher(loader, wcfg, slog.Default())
		if err != nil {
			slog.Warn("Config watcher unavailable", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("Failed to stop server", "error", err)
		os.Exit(1)
	}
}

func setupLogging(lvl, format string) {
	applyLevel(lvl)
	opts := &slog.HandlerOptions{Level: &level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func applyLevel(name string) {
	if lvl, ok := logLevels[strings.ToLower(name)]; ok {
		level.Set(lvl)
	}
}
