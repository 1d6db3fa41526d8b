// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobstore

import (
	"time"

	"github.com/bureau-foundation/agentrelay/lib/streamjson"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (status Status) IsTerminal() bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
}

// CancelledMessage is the error text recorded on a cancelled job.
const CancelledMessage = "Cancelled by user"

// Job is one asynchronous request to produce an assistant turn.
type Job struct {
	ID        string `json:"job_id"`
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`

	// Model is the model the job runs with, after defaulting.
	Model string `json:"model"`

	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`

	// StartedAt is set when the job leaves pending for processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is set exactly when the job becomes terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is set only on completed jobs, Error only on failed and
	// cancelled ones.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	Thinking  string                `json:"thinking,omitempty"`
	ToolCalls []streamjson.ToolCall `json:"tool_calls,omitempty"`

	UserRecordID      string `json:"user_record_id,omitempty"`
	AssistantRecordID string `json:"assistant_record_id,omitempty"`

	// DeviceID is set when the job was dispatched to a remote device.
	DeviceID string `json:"device_id,omitempty"`

	// TranscriptDigest is the archive digest of the raw agent output,
	// when archiving is enabled.
	TranscriptDigest string `json:"transcript_digest,omitempty"`

	// ElapsedSeconds is computed when the job is read: started to
	// completed, or started to now while processing.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Completion carries the fields written by a successful run.
type Completion struct {
	Result            string
	Thinking          string
	ToolCalls         []streamjson.ToolCall
	UserRecordID      string
	AssistantRecordID string
	TranscriptDigest  string
}

func (job *Job) clone() Job {
	copied := *job
	if job.StartedAt != nil {
		started := *job.StartedAt
		copied.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		copied.CompletedAt = &completed
	}
	if job.ToolCalls != nil {
		copied.ToolCalls = append([]streamjson.ToolCall(nil), job.ToolCalls...)
	}
	return copied
}

func (job *Job) elapsed(now time.Time) float64 {
	if job.StartedAt == nil {
		return 0
	}
	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	return end.Sub(*job.StartedAt).Seconds()
}
