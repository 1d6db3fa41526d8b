// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/conversation"
	"github.com/bureau-foundation/agentrelay/lib/dispatch"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/streamjson"
	"github.com/bureau-foundation/agentrelay/lib/transcript"
)

// errSuperseded stops the pipeline when the job was cancelled during
// dispatch.
var errSuperseded = errors.New("job no longer processing")

// outcome is what a successful pipeline run produced.
type outcome struct {
	output   streamjson.Output
	records  conversation.Records
	model    string
	deviceID string
	digest   string
}

// selectDispatcher returns the dispatcher for the session and, for
// remote sessions, the device id.
func (e *Engine) selectDispatcher(ctx context.Context, sessionID string) (dispatch.Dispatcher, string, error) {
	if e.sessions == nil {
		return e.local, "", nil
	}
	binding, err := e.sessions.ResolveSessionBinding(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if binding == nil {
		return e.local, "", nil
	}
	device, err := e.sessions.ResolveDevice(ctx, binding.DeviceID)
	if err != nil {
		return nil, "", err
	}
	if e.bindRemote == nil {
		return nil, "", fmt.Errorf("session %s is bound to device %s but remote dispatch is not configured", sessionID, device.ID)
	}
	workingDirectory, err := e.sessions.GetWorkingDirectory(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return e.bindRemote(device, workingDirectory), device.ID, nil
}

// execute dispatches, parses, archives, and persists one exchange.
// jobID is empty for Converse. proceed, if set, is checked after
// dispatch; returning false skips persistence.
func (e *Engine) execute(ctx context.Context, jobID string, request agentcmd.Request, timeout time.Duration, proceed func(deviceID string) bool, logger *slog.Logger) (outcome, error) {
	dispatcher, deviceID, err := e.selectDispatcher(ctx, request.SessionID)
	if err != nil {
		return outcome{deviceID: deviceID}, err
	}

	result, err := dispatcher.Dispatch(ctx, dispatch.Call{Request: request, Timeout: timeout})
	if err != nil {
		return outcome{deviceID: deviceID}, err
	}

	output, stats := streamjson.Parse(result.Stdout)
	if stats.Skipped > 0 {
		logger.Debug("skipped malformed stream lines", "skipped", stats.Skipped, "lines", stats.Lines)
	}

	done := outcome{output: output, model: result.Model, deviceID: deviceID}
	if e.archive != nil && jobID != "" && len(result.Stdout) > 0 {
		record, err := e.archive.Store(transcript.Entry{
			JobID:     jobID,
			SessionID: request.SessionID,
			DeviceID:  deviceID,
			Raw:       result.Stdout,
		})
		if err != nil {
			logger.Warn("archiving transcript failed", "error", err)
		} else {
			done.digest = record.Digest
		}
	}

	if proceed != nil && !proceed(deviceID) {
		return done, errSuperseded
	}

	records, err := e.persister.Persist(ctx, conversation.Exchange{
		SessionID: request.SessionID,
		Prompt:    request.Prompt,
		Output:    output,
		Model:     result.Model,
	})
	if err != nil {
		return done, err
	}
	done.records = records
	return done, nil
}

// runJob drives one job from pending to a terminal state.
func (e *Engine) runJob(ctx context.Context, jobID string, request agentcmd.Request) {
	logger := e.logger.With("job_id", jobID, "session_id", request.SessionID)

	job, err := e.jobs.Start(jobID)
	if err != nil {
		// Cancelled before it was claimed.
		logger.Info("job not started", "reason", err)
		return
	}
	if others := e.jobs.Processing(request.SessionID); len(others) > 1 {
		logger.Warn("concurrent jobs on one session; turn order is not guaranteed",
			"processing_jobs", len(others))
	}

	stillProcessing := func(deviceID string) bool {
		_, err := e.jobs.Update(jobID, func(job *jobstore.Job) {
			if deviceID != "" {
				job.DeviceID = deviceID
			}
		})
		return err == nil
	}

	done, err := e.execute(ctx, jobID, request, e.asyncTimeout, stillProcessing, logger)
	if errors.Is(err, errSuperseded) {
		logger.Info("job finished after cancellation; result discarded")
		return
	}
	if err != nil {
		if _, failErr := e.jobs.FailOnDevice(jobID, err.Error(), done.deviceID); failErr != nil {
			logger.Info("job failure not recorded", "device_id", done.deviceID, "reason", failErr)
			return
		}
		logger.Error("job failed", "error", err, "elapsed", e.clock.Now().Sub(*job.StartedAt))
		return
	}

	completed, err := e.jobs.Complete(jobID, jobstore.Completion{
		Result:            done.output.Text,
		Thinking:          done.output.Thinking,
		ToolCalls:         done.output.ToolCalls,
		UserRecordID:      done.records.UserRecordID,
		AssistantRecordID: done.records.AssistantRecordID,
		TranscriptDigest:  done.digest,
	})
	if err != nil {
		logger.Warn("job completed after cancellation; turns were persisted",
			"user_record_id", done.records.UserRecordID,
			"reason", err)
		return
	}
	logger.Info("job completed",
		"device_id", done.deviceID,
		"result_length", len(completed.Result),
		"tool_calls", len(completed.ToolCalls),
		"elapsed_seconds", completed.ElapsedSeconds,
	)
}

// Reply is the result of a synchronous conversation turn.
type Reply struct {
	Text              string                `json:"text"`
	Thinking          string                `json:"thinking,omitempty"`
	ToolCalls         []streamjson.ToolCall `json:"tool_calls,omitempty"`
	Model             string                `json:"model"`
	DeviceID          string                `json:"device_id,omitempty"`
	UserRecordID      string                `json:"user_record_id"`
	AssistantRecordID string                `json:"assistant_record_id"`
}

// Converse runs one exchange synchronously, bounded by the sync
// timeout, without creating a job.
func (e *Engine) Converse(ctx context.Context, request agentcmd.Request) (Reply, error) {
	if _, err := agentcmd.Build("", request); err != nil {
		return Reply{}, err
	}
	if err := e.acquire(); err != nil {
		return Reply{}, err
	}
	defer e.inflight.Done()

	logger := e.logger.With("session_id", request.SessionID)
	done, err := e.execute(ctx, "", request, e.syncTimeout, nil, logger)
	if err != nil {
		logger.Error("conversation failed", "error", err)
		return Reply{}, err
	}
	return Reply{
		Text:              done.output.Text,
		Thinking:          done.output.Thinking,
		ToolCalls:         done.output.ToolCalls,
		Model:             done.model,
		DeviceID:          done.deviceID,
		UserRecordID:      done.records.UserRecordID,
		AssistantRecordID: done.records.AssistantRecordID,
	}, nil
}
