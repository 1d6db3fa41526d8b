// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/config"
	"github.com/bureau-foundation/agentrelay/lib/conversation"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/dispatch"
	"github.com/bureau-foundation/agentrelay/lib/engine"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/service"
	"github.com/bureau-foundation/agentrelay/lib/transcript"
)

// daemon owns every long-lived component of the service.
type daemon struct {
	registry      *devices.Registry
	conversations *conversation.Persister
	archive       *transcript.Archive
	engine        *engine.Engine
	server        *service.SocketServer
	logger        *slog.Logger
}

// openDaemon opens the stores and wires the engine and socket server
// from cfg. A nil clk means the real clock. On error everything opened
// so far is closed.
func openDaemon(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (_ *daemon, err error) {
	if clk == nil {
		clk = clock.Real()
	}
	d := &daemon{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.registry, err = devices.Open(devices.Config{
		Path:   cfg.Paths.DeviceDB,
		Clock:  clk,
		Logger: logger.With("component", "devices"),
	})
	if err != nil {
		return nil, err
	}

	d.conversations, err = conversation.Open(conversation.Config{
		Path:   cfg.Paths.ConversationDB,
		Clock:  clk,
		Logger: logger.With("component", "conversation"),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Paths.Transcripts != "" {
		d.archive, err = transcript.Open(transcript.Config{
			Directory: cfg.Paths.Transcripts,
			Clock:     clk,
			Logger:    logger.With("component", "transcript"),
		})
		if err != nil {
			return nil, err
		}
	}

	local := dispatch.NewLocal(dispatch.LocalConfig{
		Binary:  cfg.Agent.Binary,
		Timeout: cfg.Agent.SyncTimeout.Duration(),
		Logger:  logger.With("component", "dispatch"),
	})
	remote, err := dispatch.NewRemote(dispatch.RemoteConfig{
		SSHBinary:        cfg.Remote.SSHBinary,
		ConnectTimeout:   cfg.Remote.ConnectTimeout.Duration(),
		CommandTimeout:   cfg.Remote.CommandTimeout.Duration(),
		DefaultAgentPath: cfg.Remote.DefaultAgentPath,
		HostKeyPolicy:    cfg.Remote.HostKeyPolicy,
		KnownHostsFile:   cfg.Remote.KnownHostsFile,
		Recorder:         d.registry,
		Logger:           logger.With("component", "ssh"),
	})
	if err != nil {
		return nil, err
	}

	engineConfig := engine.Config{
		Jobs:      jobstore.New(clk),
		Local:     local,
		Persister: d.conversations,
		Sessions:  d.registry,
		BindRemote: func(device devices.Device, workingDirectory string) dispatch.Dispatcher {
			return remote.Bind(device, workingDirectory)
		},
		SyncTimeout:  cfg.Agent.SyncTimeout.Duration(),
		AsyncTimeout: cfg.Agent.AsyncTimeout.Duration(),
		Retention:    cfg.Jobs.Retention.Duration(),
		ReapInterval: cfg.Jobs.ReapInterval.Duration(),
		Clock:        clk,
		Logger:       logger.With("component", "engine"),
	}
	handlers := &service.Handlers{
		Devices:       d.registry,
		Probes:        remote,
		Conversations: d.conversations,
		Logger:        logger.With("component", "service"),
	}
	// A nil *transcript.Archive must not become a non-nil interface.
	if d.archive != nil {
		engineConfig.Archive = d.archive
		handlers.Transcripts = d.archive
	}

	d.engine, err = engine.New(engineConfig)
	if err != nil {
		return nil, err
	}
	handlers.Jobs = d.engine

	d.server = service.NewSocketServer(cfg.Paths.Socket, logger.With("component", "socket"))
	handlers.Register(d.server)
	return d, nil
}

// Run serves the socket and the reaper until ctx is cancelled, then
// stops accepting work and waits up to drain for in-flight jobs.
func (d *daemon) Run(ctx context.Context, drain time.Duration) error {
	runCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	reaperDone := make(chan error, 1)
	go func() { reaperDone <- d.engine.Run(runCtx) }()

	serveErr := d.server.Serve(ctx)
	if serveErr != nil {
		d.logger.Error("socket server stopped", "error", serveErr)
	}
	stopReaper()
	d.logger.Info("shutting down; draining in-flight jobs")

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()
	drainErr := d.engine.Close(drainCtx)
	return errors.Join(serveErr, drainErr, <-reaperDone)
}

// Close releases the stores. It is safe on a partially opened daemon.
func (d *daemon) Close() error {
	var errs []error
	if d.archive != nil {
		errs = append(errs, d.archive.Close())
	}
	if d.conversations != nil {
		errs = append(errs, d.conversations.Close())
	}
	if d.registry != nil {
		errs = append(errs, d.registry.Close())
	}
	return errors.Join(errs...)
}
