// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/service"
)

func (a *app) sessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Summary: "Inspect local conversation sessions",
		Subcommands: []*cli.Command{
			a.sessionCreateCommand(),
			a.sessionListCommand(),
			a.sessionShowCommand(),
		},
	}
}

func (a *app) sessionCreateCommand() *cli.Command {
	var name string
	return &cli.Command{
		Name:    "create",
		Summary: "Create an empty session and print its id",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&name, "name", "", "session name")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay session create [--name <name>]"); err != nil {
				return err
			}
			var created service.SessionRequest
			if err := a.conn.call(ctx, "session-create", map[string]any{"name": name}, &created); err != nil {
				return err
			}
			if done, err := a.out.Emit(created); done {
				return err
			}
			a.out.Printf("%s\n", created.SessionID)
			return nil
		},
	}
}

func (a *app) sessionListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List session ids in the conversation store",
		Flags:   a.withFlags(nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay session list"); err != nil {
				return err
			}
			var ids []string
			if err := a.conn.call(ctx, "session-list", nil, &ids); err != nil {
				return err
			}
			if done, err := a.out.Emit(ids); done {
				return err
			}
			for _, id := range ids {
				a.out.Printf("%s\n", id)
			}
			return nil
		},
	}
}

func (a *app) sessionShowCommand() *cli.Command {
	var thinking bool
	return &cli.Command{
		Name:    "show",
		Summary: "Print the turns of a session",
		Usage:   "agentrelay session show [flags] <session-id>",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&thinking, "thinking", false, "include assistant reasoning")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay session show <session-id>"); err != nil {
				return err
			}
			var session service.SessionResponse
			if err := a.conn.call(ctx, "session-show", map[string]any{"session_id": args[0]}, &session); err != nil {
				return err
			}
			if done, err := a.out.Emit(session); done {
				return err
			}
			a.out.Printf("# %s\n", session.Name)
			for _, turn := range session.Turns {
				a.out.Printf("\n[%s]\n", turn.Role)
				if thinking && turn.Thinking != "" {
					a.out.Printf("%s\n\n", strings.TrimSpace(turn.Thinking))
				}
				a.out.Printf("%s\n", strings.TrimSpace(turn.Text))
			}
			if len(session.Missing) > 0 {
				a.out.Printf("\nmissing turns: %s\n", strings.Join(session.Missing, ", "))
			}
			return nil
		},
	}
}
