// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamjson

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Output is the reduction of one agent run.
type Output struct {
	// Text is the final answer. Empty when the agent produced none.
	Text string `json:"text"`

	// Thinking is the accumulated reasoning. Empty when none was
	// streamed.
	Thinking string `json:"thinking,omitempty"`

	// ToolCalls lists completed shell tool calls in stream order. Nil
	// when there were none.
	ToolCalls []ToolCall `json:"tool_calls"`

	// Messages are the intermediate assistant texts, in order.
	Messages []string `json:"assistant_messages,omitempty"`
}

// Stats counts what the reducer saw.
type Stats struct {
	// Lines is the number of non-blank lines.
	Lines int

	// Skipped is the number of malformed lines dropped.
	Skipped int

	// Discarded is the number of well-formed events of unused kinds.
	Discarded int
}

// Reducer folds events into an Output. The zero value is ready to use.
// A Reducer is not safe for concurrent use.
type Reducer struct {
	thinking  []string
	toolCalls []ToolCall
	messages  []string
	result    string
	stats     Stats
}

// AddLine decodes one line and folds it in. Malformed lines are
// counted and dropped.
func (reducer *Reducer) AddLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	reducer.stats.Lines++
	event, err := ParseLine(line)
	if err != nil {
		reducer.stats.Skipped++
		return
	}
	reducer.Add(event)
}

// Add folds one decoded event in.
func (reducer *Reducer) Add(event Event) {
	switch event.Kind {
	case KindThinkingDelta:
		if event.Thinking.Text != "" {
			reducer.thinking = append(reducer.thinking, event.Thinking.Text)
		}
	case KindThinkingCompleted:
		if event.Thinking.Text != "" && len(reducer.thinking) == 0 {
			reducer.thinking = []string{event.Thinking.Text}
		}
	case KindToolCallCompleted:
		reducer.toolCalls = append(reducer.toolCalls, *event.ToolCall)
	case KindAssistant:
		reducer.messages = append(reducer.messages, event.Assistant.Texts...)
	case KindResultSuccess:
		// The last success event wins, including an empty one.
		reducer.result = event.Result.Text
	default:
		reducer.stats.Discarded++
	}
}

// Output returns the reduction of everything added so far. The
// returned slices are not shared with the Reducer.
func (reducer *Reducer) Output() Output {
	output := Output{Text: reducer.result}
	if output.Text == "" && len(reducer.messages) > 0 {
		output.Text = strings.Join(reducer.messages, "\n\n")
	}
	if len(reducer.thinking) > 0 {
		output.Thinking = strings.Join(reducer.thinking, "")
	}
	if len(reducer.toolCalls) > 0 {
		output.ToolCalls = append([]ToolCall(nil), reducer.toolCalls...)
	}
	if len(reducer.messages) > 0 {
		output.Messages = append([]string(nil), reducer.messages...)
	}
	return output
}

// Stats returns line counters for diagnostics.
func (reducer *Reducer) Stats() Stats {
	return reducer.stats
}

// Parse reduces a complete captured stream. It never fails.
func Parse(data []byte) (Output, Stats) {
	var reducer Reducer
	for line := range bytes.Lines(data) {
		reducer.AddLine(line)
	}
	return reducer.Output(), reducer.Stats()
}

// ParseReader reduces a stream as it is read, with no limit on line
// length. The only error is a read error from reader; the Output
// reflects every complete line read before it.
func ParseReader(reader io.Reader) (Output, Stats, error) {
	var reducer Reducer
	buffered := bufio.NewReaderSize(reader, 64*1024)
	for {
		line, err := buffered.ReadBytes('\n')
		if len(line) > 0 {
			reducer.AddLine(line)
		}
		if errors.Is(err, io.EOF) {
			return reducer.Output(), reducer.Stats(), nil
		}
		if err != nil {
			return reducer.Output(), reducer.Stats(), err
		}
	}
}
