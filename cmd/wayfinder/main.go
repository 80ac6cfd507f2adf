// Wayfinder - obstacle announcements, haptic warnings and voice commands
// for a wearable navigation aid.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"github.com/teslashibe/go-wayfinder/internal/config"
	"github.com/teslashibe/go-wayfinder/internal/log"
	_ "github.com/teslashibe/go-wayfinder/pkg/feed/camera"
	"github.com/teslashibe/go-wayfinder/pkg/wayfinder"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	feedMode := flag.String("feed", "", "Detection feed: websocket, ingress, camera, none (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("configuration error", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *feedMode != "" {
		cfg.Detection.Feed.Mode = *feedMode
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	app, err := wayfinder.New(cfg, logger)
	if err != nil {
		fatal("configuration error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		fatal("initialization failed", err)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "wayfinder: %s\n", msg)
	xerrors.Print(xerrors.New(err))
	os.Exit(1)
}
