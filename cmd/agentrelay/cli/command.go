// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind the agentrelay
// operator CLI: nested commands, per-command pflag sets, help output,
// and typo suggestions.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree. A node either dispatches to
// Subcommands or runs Run; a node with both runs Run when no
// subcommand name matches.
type Command struct {
	Name    string
	Summary string

	// Usage overrides the synthesized usage line.
	Usage string

	// Examples are literal command lines shown under help.
	Examples []string

	// Flags binds the command's flags onto a fresh set. A fresh set is
	// built for every parse so repeated Execute calls do not share
	// state.
	Flags func(flagSet *pflag.FlagSet)

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	Run func(ctx context.Context, args []string) error

	// Output receives help text. Only the root's value is consulted;
	// nil means stderr.
	Output io.Writer

	parent *Command
}

// Execute dispatches args through the tree.
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.output())
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		for _, sub := range c.Subcommands {
			if sub.Name == args[0] {
				sub.parent = c
				return sub.Execute(ctx, args[1:])
			}
		}
		if c.Run == nil {
			return c.unknownCommand(args[0])
		}
	}

	if c.Run == nil {
		c.PrintHelp(c.output())
		if len(args) == 0 {
			return fmt.Errorf("%s: subcommand required", c.FullName())
		}
		return fmt.Errorf("%s: subcommand required (got flag %q)", c.FullName(), args[0])
	}

	flagSet := c.flagSet()
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			c.PrintHelp(c.output())
			return nil
		}
		message := err.Error()
		if strings.Contains(message, "unknown") {
			if suggestion := suggestFlag(args, c.flagSet()); suggestion != "" {
				message += fmt.Sprintf(" (did you mean %s?)", suggestion)
			}
		}
		return fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.FullName())
	}
	return c.Run(ctx, flagSet.Args())
}

func (c *Command) unknownCommand(name string) error {
	names := make([]string, len(c.Subcommands))
	for i, sub := range c.Subcommands {
		names[i] = sub.Name
	}
	if suggestion := closest(name, names); suggestion != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
			name, suggestion, c.FullName())
	}
	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", name, c.FullName())
}

func (c *Command) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(c.FullName(), pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SortFlags = false
	if c.Flags != nil {
		c.Flags(flagSet)
	}
	return flagSet
}

// PrintHelp writes the command's help to w.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.FullName()
	if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	switch {
	case c.Usage != "":
		fmt.Fprintf(w, "Usage:\n  %s\n", c.Usage)
	case len(c.Subcommands) > 0:
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n", name)
	default:
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		if usage := c.flagSet().FlagUsages(); usage != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usage)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			fmt.Fprintf(w, "  %s\n", example)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// FullName is the space-separated path from the root, e.g.
// "agentrelay job submit".
func (c *Command) FullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.FullName() + " " + c.Name
}

func (c *Command) output() io.Writer {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	if root.Output != nil {
		return root.Output
	}
	return os.Stderr
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
