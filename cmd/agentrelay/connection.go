// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/config"
	"github.com/bureau-foundation/agentrelay/lib/service"
	"github.com/bureau-foundation/agentrelay/lib/version"
)

// defaultCallTimeout bounds a single request. "ask" raises it because
// the service waits for the agent.
const (
	defaultCallTimeout = 30 * time.Second
	askCallTimeout     = 5 * time.Minute
)

// connection locates the service socket. The first of these wins:
// --socket, AGENTRELAY_SOCKET, paths.socket from --config or
// AGENTRELAY_CONFIG, and the default socket path.
type connection struct {
	socket     string
	configPath string
	envFile    string
	timeout    time.Duration
}

func (c *connection) bind(flagSet *pflag.FlagSet, timeout time.Duration) {
	flagSet.StringVar(&c.socket, "socket", "", "service socket path")
	flagSet.StringVar(&c.configPath, "config", "", "config file used to find the socket")
	flagSet.StringVar(&c.envFile, "env-file", "", "dotenv file loaded before the config")
	flagSet.DurationVar(&c.timeout, "timeout", timeout, "request timeout")
}

func (c *connection) socketPath() (string, error) {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil {
			return "", fmt.Errorf("loading env file: %w", err)
		}
	}
	if c.socket != "" {
		return c.socket, nil
	}
	if socket := os.Getenv("AGENTRELAY_SOCKET"); socket != "" {
		return socket, nil
	}

	path := c.configPath
	if path == "" {
		path = os.Getenv("AGENTRELAY_CONFIG")
	}
	if path == "" {
		return config.Resolved().Paths.Socket, nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return "", err
	}
	return cfg.Paths.Socket, nil
}

// call sends one request bounded by --timeout.
func (c *connection) call(ctx context.Context, action string, fields map[string]any, result any) error {
	socket, err := c.socketPath()
	if err != nil {
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return service.NewClient(socket).Call(ctx, action, fields, result)
}

// app holds the state shared by every command.
type app struct {
	conn  connection
	out   cli.Output
	stdin io.Reader
}

func newApp() *app {
	return &app{stdin: os.Stdin}
}

// common binds the connection and output flags.
func (a *app) common(timeout time.Duration) func(*pflag.FlagSet) {
	return func(flagSet *pflag.FlagSet) {
		a.conn.bind(flagSet, timeout)
		a.out.Bind(flagSet)
	}
}

// withFlags appends extra flags to the common set.
func (a *app) withFlags(extra func(*pflag.FlagSet)) func(*pflag.FlagSet) {
	return a.withTimeout(defaultCallTimeout, extra)
}

func (a *app) withTimeout(timeout time.Duration, extra func(*pflag.FlagSet)) func(*pflag.FlagSet) {
	common := a.common(timeout)
	return func(flagSet *pflag.FlagSet) {
		common(flagSet)
		if extra != nil {
			extra(flagSet)
		}
	}
}

// prompt joins the remaining arguments. A single "-" reads the prompt
// from stdin.
func (a *app) prompt(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("reading prompt from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	return strings.Join(args, " "), nil
}

func exactArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "agentrelay",
		Summary: "Operate an agentrelay service: submit prompts, follow jobs, manage remote devices.",
		Subcommands: []*cli.Command{
			a.jobCommand(),
			a.askCommand(),
			a.deviceCommand(),
			a.chatCommand(),
			a.sessionCommand(),
			a.statusCommand(),
			a.transcriptCommand(),
			{
				Name:    "version",
				Summary: "Print build information",
				Run: func(ctx context.Context, args []string) error {
					version.Print(a.out.Stream(), "agentrelay")
					return nil
				},
			},
		},
	}
}
