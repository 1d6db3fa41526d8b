// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(output *bytes.Buffer) (*Command, *[]string, *string) {
	var gotArgs []string
	var model string
	submit := &Command{
		Name:    "submit",
		Summary: "Submit a prompt",
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&model, "model", "", "model name")
		},
		Run: func(ctx context.Context, args []string) error {
			gotArgs = args
			return nil
		},
	}
	root := &Command{
		Name:   "agentrelay",
		Output: output,
		Subcommands: []*Command{
			{Name: "job", Summary: "Manage jobs", Subcommands: []*Command{submit}},
		},
	}
	return root, &gotArgs, &model
}

func TestExecuteDispatchesAndParsesFlags(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root, gotArgs, model := testTree(&output)
	err := root.Execute(context.Background(), []string{"job", "submit", "--model", "gpt-5", "session-1", "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if *model != "gpt-5" {
		t.Errorf("got model %q, want gpt-5", *model)
	}
	if strings.Join(*gotArgs, ",") != "session-1,hello" {
		t.Errorf("got args %v, want [session-1 hello]", *gotArgs)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root, _, _ := testTree(&output)
	err := root.Execute(context.Background(), []string{"job", "sumbit"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "submit"`) {
		t.Errorf("got %q, want a suggestion for submit", err)
	}
	if !strings.Contains(err.Error(), "agentrelay job --help") {
		t.Errorf("got %q, want the full command path in the hint", err)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root, _, _ := testTree(&output)
	err := root.Execute(context.Background(), []string{"job", "submit", "--modle", "x"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --model?") {
		t.Errorf("got %q, want a suggestion for --model", err)
	}
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root, _, _ := testTree(&output)
	err := root.Execute(context.Background(), []string{"job"})
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Fatalf("got %v, want subcommand required", err)
	}
	if !strings.Contains(output.String(), "submit") {
		t.Errorf("help output missing subcommand listing:\n%s", output.String())
	}
}

func TestHelpListsFlags(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root, gotArgs, _ := testTree(&output)
	if err := root.Execute(context.Background(), []string{"job", "submit", "--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if *gotArgs != nil {
		t.Error("Run was called for --help")
	}
	help := output.String()
	for _, want := range []string{"Submit a prompt", "agentrelay job submit [flags]", "--model"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"submit", "submit", 0},
		{"sumbit", "submit", 2},
		{"list", "lsit", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestOutputFormats(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	output := &Output{Format: FormatJSON, Writer: &buffer}
	var empty []string
	done, err := output.Emit(empty)
	if err != nil || !done {
		t.Fatalf("Emit = %v, %v; want true, nil", done, err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("got %q, want []", buffer.String())
	}

	buffer.Reset()
	output.Format = FormatText
	if done, _ := output.Emit(empty); done {
		t.Error("Emit wrote JSON in text mode")
	}
	if err := output.Table([]string{"id", "status"}, [][]string{{"job-1", "pending"}}); err != nil {
		t.Fatalf("Table: %v", err)
	}
	if !strings.HasPrefix(buffer.String(), "ID") || !strings.Contains(buffer.String(), "job-1") {
		t.Errorf("unexpected table:\n%s", buffer.String())
	}

	output.Format = "yaml"
	if _, err := output.JSON(); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewLoggerHandlers(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	newLogger(&buffer, false, slog.LevelInfo).Info("hello", "job_id", "j1")
	if !strings.HasPrefix(buffer.String(), "{") {
		t.Errorf("got %q, want JSON when not a terminal", buffer.String())
	}

	buffer.Reset()
	newLogger(&buffer, true, slog.LevelInfo).Info("hello", "job_id", "j1")
	if !strings.Contains(buffer.String(), "job_id=j1") {
		t.Errorf("got %q, want text handler output", buffer.String())
	}
}
