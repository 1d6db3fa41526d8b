// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/engine"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/service"
)

// waitPollInterval is how often "job get --wait" polls.
const waitPollInterval = time.Second

func (a *app) jobCommand() *cli.Command {
	return &cli.Command{
		Name:    "job",
		Summary: "Submit and inspect background jobs",
		Subcommands: []*cli.Command{
			a.jobSubmitCommand(),
			a.jobGetCommand(),
			a.jobCancelCommand(),
			a.jobListCommand(),
		},
	}
}

func (a *app) jobSubmitCommand() *cli.Command {
	var model string
	return &cli.Command{
		Name:    "submit",
		Summary: "Queue a prompt and print the job id",
		Usage:   "agentrelay job submit [flags] <session-id> <prompt...|->",
		Examples: []string{
			"agentrelay job submit 4f1c0a2e-... 'summarize the failing tests'",
			"git diff | agentrelay job submit --model gpt-5 4f1c0a2e-... -",
		},
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&model, "model", "", "model name (default: the service default)")
		}),
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: agentrelay job submit <session-id> <prompt...>")
			}
			prompt, err := a.prompt(args[1:])
			if err != nil {
				return err
			}
			var response service.SubmitResponse
			err = a.conn.call(ctx, "submit", map[string]any{
				"session_id": args[0],
				"prompt":     prompt,
				"model":      model,
			}, &response)
			if err != nil {
				return err
			}
			if done, err := a.out.Emit(response); done {
				return err
			}
			a.out.Printf("%s\n", response.JobID)
			return nil
		},
	}
}

func (a *app) jobGetCommand() *cli.Command {
	var wait bool
	return &cli.Command{
		Name:    "get",
		Summary: "Show a job",
		Usage:   "agentrelay job get [flags] <job-id>",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&wait, "wait", false, "poll until the job is terminal (bounded by --timeout)")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay job get <job-id>"); err != nil {
				return err
			}
			var job jobstore.Job
			var err error
			if wait {
				job, err = a.waitForJob(ctx, args[0])
			} else {
				err = a.conn.call(ctx, "get", map[string]any{"job_id": args[0]}, &job)
			}
			if err != nil {
				return err
			}
			return a.printJob(job)
		},
	}
}

// waitForJob polls until the job leaves pending and processing. The
// --timeout bound covers the whole wait.
func (a *app) waitForJob(ctx context.Context, jobID string) (jobstore.Job, error) {
	if a.conn.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.conn.timeout)
		defer cancel()
	}
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		var job jobstore.Job
		if err := a.conn.call(ctx, "get", map[string]any{"job_id": jobID}, &job); err != nil {
			return job, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", jobID, job.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *app) jobCancelCommand() *cli.Command {
	return &cli.Command{
		Name:    "cancel",
		Summary: "Cancel a pending or processing job",
		Usage:   "agentrelay job cancel [flags] <job-id>",
		Flags:   a.withFlags(nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay job cancel <job-id>"); err != nil {
				return err
			}
			var job jobstore.Job
			if err := a.conn.call(ctx, "cancel", map[string]any{"job_id": args[0]}, &job); err != nil {
				return err
			}
			if done, err := a.out.Emit(job); done {
				return err
			}
			a.out.Printf("job %s %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func (a *app) jobListCommand() *cli.Command {
	var limit int
	return &cli.Command{
		Name:    "list",
		Summary: "List a session's jobs, newest first",
		Usage:   "agentrelay job list [flags] <session-id>",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.IntVar(&limit, "limit", engine.DefaultListLimit, "maximum number of jobs")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay job list <session-id>"); err != nil {
				return err
			}
			var jobs []jobstore.Job
			err := a.conn.call(ctx, "list", map[string]any{"session_id": args[0], "limit": limit}, &jobs)
			if err != nil {
				return err
			}
			if done, err := a.out.Emit(jobs); done {
				return err
			}
			rows := make([][]string, len(jobs))
			for i, job := range jobs {
				rows[i] = []string{
					job.ID,
					string(job.Status),
					job.Model,
					formatTime(&job.CreatedAt),
					strconv.FormatFloat(job.ElapsedSeconds, 'f', 1, 64),
				}
			}
			return a.out.Table([]string{"job", "status", "model", "created", "elapsed"}, rows)
		},
	}
}

func (a *app) printJob(job jobstore.Job) error {
	if done, err := a.out.Emit(job); done {
		return err
	}
	err := a.out.Fields(
		[2]string{"job", job.ID},
		[2]string{"session", job.SessionID},
		[2]string{"status", string(job.Status)},
		[2]string{"model", job.Model},
		[2]string{"device", job.DeviceID},
		[2]string{"created", formatTime(&job.CreatedAt)},
		[2]string{"started", formatTime(job.StartedAt)},
		[2]string{"completed", formatTime(job.CompletedAt)},
		[2]string{"elapsed", strconv.FormatFloat(job.ElapsedSeconds, 'f', 1, 64) + "s"},
		[2]string{"transcript", job.TranscriptDigest},
		[2]string{"error", job.Error},
	)
	if err != nil {
		return err
	}
	for _, call := range job.ToolCalls {
		a.out.Printf("\n$ %s\n", call.Command)
	}
	if job.Result != "" {
		a.out.Printf("\n%s\n", job.Result)
	}
	return nil
}

func (a *app) askCommand() *cli.Command {
	var model string
	var showThinking bool
	return &cli.Command{
		Name:    "ask",
		Summary: "Run one exchange and wait for the reply",
		Usage:   "agentrelay ask [flags] <session-id> <prompt...|->",
		Examples: []string{
			"agentrelay ask 4f1c0a2e-... 'what does lib/engine do?'",
		},
		Flags: a.withTimeout(askCallTimeout, func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&model, "model", "", "model name (default: the service default)")
			flagSet.BoolVar(&showThinking, "thinking", false, "print the model's reasoning before the reply")
		}),
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: agentrelay ask <session-id> <prompt...>")
			}
			prompt, err := a.prompt(args[1:])
			if err != nil {
				return err
			}
			var reply engine.Reply
			err = a.conn.call(ctx, "ask", map[string]any{
				"session_id": args[0],
				"prompt":     prompt,
				"model":      model,
			}, &reply)
			if err != nil {
				return err
			}
			if done, err := a.out.Emit(reply); done {
				return err
			}
			if showThinking && reply.Thinking != "" {
				a.out.Printf("%s\n\n", reply.Thinking)
			}
			for _, call := range reply.ToolCalls {
				a.out.Printf("$ %s\n", call.Command)
			}
			a.out.Printf("%s\n", reply.Text)
			return nil
		},
	}
}
