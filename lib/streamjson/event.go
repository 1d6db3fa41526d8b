// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a decoded stream event.
type Kind int

const (
	// KindDiscard is any well-formed event the reducer has no use for:
	// unknown types, unknown subtypes, in-flight tool calls, system
	// and user echo events.
	KindDiscard Kind = iota

	// KindThinkingDelta is an incremental piece of reasoning text.
	KindThinkingDelta

	// KindThinkingCompleted is a complete reasoning block. Some agent
	// versions send it instead of deltas, some send both.
	KindThinkingCompleted

	// KindToolCallCompleted is a finished tool invocation.
	KindToolCallCompleted

	// KindAssistant is an assistant message with zero or more text
	// content items.
	KindAssistant

	// KindResultSuccess is the terminal success event carrying the
	// final answer.
	KindResultSuccess
)

var kindNames = [...]string{
	KindDiscard:           "discard",
	KindThinkingDelta:     "thinking_delta",
	KindThinkingCompleted: "thinking_completed",
	KindToolCallCompleted: "tool_call_completed",
	KindAssistant:         "assistant",
	KindResultSuccess:     "result_success",
}

func (kind Kind) String() string {
	if kind < 0 || int(kind) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(kind))
	}
	return kindNames[kind]
}

// Event is one decoded stream line. Exactly one payload field is set,
// selected by Kind; KindDiscard events carry no payload.
type Event struct {
	Kind Kind

	// Type and Subtype are the raw discriminators from the line,
	// retained for diagnostics.
	Type    string
	Subtype string

	// Thinking is set for KindThinkingDelta and KindThinkingCompleted.
	Thinking *ThinkingPayload

	// ToolCall is set for KindToolCallCompleted.
	ToolCall *ToolCall

	// Assistant is set for KindAssistant.
	Assistant *AssistantPayload

	// Result is set for KindResultSuccess.
	Result *ResultPayload
}

// ThinkingPayload is reasoning text.
type ThinkingPayload struct {
	Text string
}

// AssistantPayload holds the text content items of an assistant
// message, in order, with empty items removed.
type AssistantPayload struct {
	Texts []string
}

// ResultPayload is the final answer. Text may be empty when the agent
// finished without producing a summary.
type ResultPayload struct {
	Text string
}

// ToolCall is a normalized record of a completed shell command.
type ToolCall struct {
	// Name is the tool name as the editor knows it.
	Name string `json:"name"`

	// Command is the shell command line the agent ran.
	Command string `json:"command"`

	// Explanation is a one-line human description.
	Explanation string `json:"explanation,omitempty"`

	Arguments ToolArguments `json:"arguments"`

	// ExitCode is nil when the event carried no success result (the
	// command failed to start or the result was elided).
	ExitCode *int `json:"exit_code,omitempty"`

	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// ExecutionTimeMS is the agent-reported runtime of the command.
	ExecutionTimeMS int64 `json:"execution_time_ms,omitempty"`
}

// ToolArguments are the structured arguments of a shell tool call.
type ToolArguments struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
}

// ShellToolName is the name recorded for shell tool calls.
const ShellToolName = "run_terminal_cmd"

// ErrMalformedLine is returned by ParseLine for lines that are not a
// JSON object or whose payload has the wrong shape.
var ErrMalformedLine = errors.New("streamjson: malformed line")

type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// ParseLine decodes a single stream line. Blank lines and well-formed
// events of unused kinds return a KindDiscard event and a nil error.
// The returned error always wraps ErrMalformedLine.
func ParseLine(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{Kind: KindDiscard}, nil
	}
	if line[0] != '{' {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedLine)
	}

	var header envelope
	if err := json.Unmarshal(line, &header); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	event := Event{Kind: KindDiscard, Type: header.Type, Subtype: header.Subtype}
	var err error
	switch header.Type {
	case "thinking":
		err = decodeThinking(line, &event)
	case "tool_call":
		if header.Subtype == "completed" {
			err = decodeToolCall(line, &event)
		}
	case "assistant":
		err = decodeAssistant(line, &event)
	case "result":
		if header.Subtype == "success" {
			err = decodeResult(line, &event)
		}
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s/%s: %v", ErrMalformedLine, header.Type, header.Subtype, err)
	}
	return event, nil
}

func decodeThinking(line []byte, event *Event) error {
	var payload struct {
		Text string `json:"text"`
	}
	switch event.Subtype {
	case "delta":
		event.Kind = KindThinkingDelta
	case "completed":
		event.Kind = KindThinkingCompleted
	default:
		return nil
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		return err
	}
	event.Thinking = &ThinkingPayload{Text: payload.Text}
	return nil
}

// wireShellToolCall mirrors tool_call.shellToolCall in a completed
// tool_call event.
type wireShellToolCall struct {
	Args struct {
		Command          string `json:"command"`
		WorkingDirectory string `json:"workingDirectory"`
	} `json:"args"`
	Result struct {
		Success *struct {
			ExitCode      *int    `json:"exitCode"`
			Stdout        string  `json:"stdout"`
			Stderr        string  `json:"stderr"`
			ExecutionTime float64 `json:"executionTime"`
		} `json:"success"`
	} `json:"result"`
}

func decodeToolCall(line []byte, event *Event) error {
	var payload struct {
		ToolCall struct {
			Shell *wireShellToolCall `json:"shellToolCall"`
		} `json:"tool_call"`
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		return err
	}
	shell := payload.ToolCall.Shell
	if shell == nil {
		return nil
	}

	record := &ToolCall{
		Name:        ShellToolName,
		Command:     shell.Args.Command,
		Explanation: "Execute shell command: " + shell.Args.Command,
		Arguments: ToolArguments{
			Command:          shell.Args.Command,
			WorkingDirectory: shell.Args.WorkingDirectory,
		},
	}
	if success := shell.Result.Success; success != nil {
		record.ExitCode = success.ExitCode
		record.Stdout = success.Stdout
		record.Stderr = success.Stderr
		record.ExecutionTimeMS = int64(success.ExecutionTime)
	}
	event.Kind = KindToolCallCompleted
	event.ToolCall = record
	return nil
}

func decodeAssistant(line []byte, event *Event) error {
	var payload struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		return err
	}
	var texts []string
	for _, item := range payload.Message.Content {
		if item.Type == "text" && item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	event.Kind = KindAssistant
	event.Assistant = &AssistantPayload{Texts: texts}
	return nil
}

func decodeResult(line []byte, event *Event) error {
	var payload struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		return err
	}
	event.Kind = KindResultSuccess
	event.Result = &ResultPayload{Text: payload.Result}
	return nil
}
