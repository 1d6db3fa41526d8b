// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/engine"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/service"
)

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show service uptime and job counts",
		Flags:   a.withFlags(nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay status"); err != nil {
				return err
			}
			var status engine.Status
			if err := a.conn.call(ctx, "status", nil, &status); err != nil {
				return err
			}
			if done, err := a.out.Emit(status); done {
				return err
			}
			uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
			pairs := [][2]string{
				{"uptime", uptime.String()},
				{"jobs", strconv.Itoa(status.JobsTotal)},
			}
			for _, state := range jobstore.Statuses() {
				pairs = append(pairs, [2]string{"  " + string(state), strconv.Itoa(status.JobsByStatus[state])})
			}
			return a.out.Fields(pairs...)
		},
	}
}

func (a *app) transcriptCommand() *cli.Command {
	var metadataOnly bool
	return &cli.Command{
		Name:    "transcript",
		Summary: "Print the archived raw agent output of a job",
		Usage:   "agentrelay transcript [flags] <job-id>",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&metadataOnly, "info", false, "print the archive record instead of the stream")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay transcript <job-id>"); err != nil {
				return err
			}
			var response service.TranscriptResponse
			if err := a.conn.call(ctx, "transcript", map[string]any{"job_id": args[0]}, &response); err != nil {
				return err
			}
			record := response.Record
			if metadataOnly {
				if done, err := a.out.Emit(record); done {
					return err
				}
				return a.out.Fields(
					[2]string{"job", record.JobID},
					[2]string{"session", record.SessionID},
					[2]string{"device", record.DeviceID},
					[2]string{"digest", record.Digest},
					[2]string{"size", strconv.Itoa(record.RawSize)},
					[2]string{"lines", strconv.Itoa(record.LineCount)},
					[2]string{"archived", formatTime(&record.CreatedAt)},
				)
			}
			// The stream is already JSON lines; write it through as is.
			_, err := a.out.Stream().Write(response.Raw)
			return err
		},
	}
}
