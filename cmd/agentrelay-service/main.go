// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// agentrelay-service runs the job engine and serves the agentrelay
// socket protocol. It loads one configuration file, opens the device
// registry, the shared conversation store and the optional transcript
// archive, and drains in-flight jobs on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/lib/config"
	"github.com/bureau-foundation/agentrelay/lib/process"
	"github.com/bureau-foundation/agentrelay/lib/version"
)

// drainTimeout bounds how long shutdown waits for in-flight jobs.
const drainTimeout = 3 * time.Minute

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("agentrelay-service", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "config file (default: $AGENTRELAY_CONFIG)")
	envFile := flagSet.String("env-file", "", "dotenv file loaded before the config")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print(os.Stdout, "agentrelay-service")
		return nil
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := openDaemon(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	logger.Info("agentrelay service running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.Paths.Socket,
		"archive", cfg.Paths.Transcripts != "",
	)
	return relay.Run(ctx, drainTimeout)
}

// loadConfig applies the env file, loads the config named by path or
// AGENTRELAY_CONFIG, validates it, and creates its directories.
func loadConfig(path, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}
