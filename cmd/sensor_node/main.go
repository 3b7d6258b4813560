// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/relabs-tech/sensor_node/internal/app"
	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/pubsub"
	"github.com/relabs-tech/sensor_node/internal/sensors"
	"github.com/relabs-tech/sensor_node/internal/shell"
)

func main() {
	configPath := flag.String("config", "sensor_node.conf", "path to the KEY=VALUE config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pressure, err := sensors.OpenPressure(cfg, logger)
	if err != nil {
		return fmt.Errorf("pressure sensor: %w", err)
	}
	defer pressure.Close()

	motion, err := sensors.OpenMotion(cfg, logger)
	if err != nil {
		logger.Warn("motion sensor unavailable, continuing without it", "error", err)
		motion = nil
	} else {
		defer motion.Close()
	}

	client, err := pubsub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer client.Close()

	node := app.NewNode(cfg, client, pressure, motion, logger)

	if cfg.InfluxURL != "" {
		sink := app.NewInfluxSink(cfg)
		defer sink.Close()
		node.AddSink(sink)
		logger.Info("influx sink enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}

	if cfg.WebServerPort > 0 {
		hub := app.NewSampleHub()
		node.AddSink(hub)
		go func() {
			if err := app.RunWeb(ctx, node, hub, cfg.WebServerPort); err != nil {
				logger.Error("web server stopped", "error", err)
			}
		}()
	}

	if cfg.DisplayEnabled {
		go func() {
			if err := app.RunDisplay(ctx, node); err != nil {
				logger.Error("display stopped", "error", err)
			}
		}()
	}

	samplerDone, err := node.Start(ctx)
	if err != nil {
		// interrupted before the first measurement
		return nil
	}

	out := node.Output()
	sh := shell.New(os.Stdin, out,
		shell.StatusCommand(),
		shell.MQTTStatusCommand(cfg),
		shell.InboxCommand(node.Status()),
	)
	if err := sh.Run(ctx); err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	// Stdin closed: keep sampling until signalled, as a daemon would.
	<-ctx.Done()
	if err := <-samplerDone; err != nil {
		logger.Error("sampler stopped", "error", err)
	}
	return nil
}
