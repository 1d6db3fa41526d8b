// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamjson

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// Representative fragments of cursor-agent --output-format stream-json.
const sampleToolStream = `{"type":"system","subtype":"init","session_id":"chat-1","model":"sonnet-4.5-thinking"}
{"type":"user","message":{"role":"user","content":[{"type":"text","text":"list the repo"}]}}
{"type":"thinking","subtype":"delta","text":"I should run "}
{"type":"thinking","subtype":"delta","text":"ls."}
{"type":"thinking","subtype":"completed","text":"ignored because deltas were seen"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Running ls."}]}}
{"type":"tool_call","subtype":"started","tool_call":{"shellToolCall":{"args":{"command":"ls"}}}}
{"type":"tool_call","subtype":"completed","tool_call":{"shellToolCall":{"args":{"command":"ls","workingDirectory":"/work"},"result":{"success":{"exitCode":0,"stdout":"go.mod\n","stderr":"","executionTime":12}}}}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"There is one file."}]}}
{"type":"result","subtype":"success","duration_ms":900,"result":"The repo contains go.mod."}
`

func TestParsePureText(t *testing.T) {
	t.Parallel()

	stream := `{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}
{"type":"result","subtype":"success","result":"ok"}
`
	output, stats := Parse([]byte(stream))
	if output.Text != "ok" {
		t.Errorf("Text = %q, want %q", output.Text, "ok")
	}
	if output.Thinking != "" {
		t.Errorf("Thinking = %q, want empty", output.Thinking)
	}
	if output.ToolCalls != nil {
		t.Errorf("ToolCalls = %v, want nil", output.ToolCalls)
	}
	if stats.Lines != 2 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want 2 lines 0 skipped", stats)
	}
}

func TestParseToolStream(t *testing.T) {
	t.Parallel()

	output, stats := Parse([]byte(sampleToolStream))

	if output.Text != "The repo contains go.mod." {
		t.Errorf("Text = %q, want the result text to override assistant messages", output.Text)
	}
	if output.Thinking != "I should run ls." {
		t.Errorf("Thinking = %q, want %q", output.Thinking, "I should run ls.")
	}
	if len(output.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(output.ToolCalls))
	}
	call := output.ToolCalls[0]
	if call.Name != ShellToolName {
		t.Errorf("Name = %q, want %q", call.Name, ShellToolName)
	}
	if call.Command != "ls" || call.Arguments.Command != "ls" {
		t.Errorf("command = %q / %q, want ls", call.Command, call.Arguments.Command)
	}
	if call.Arguments.WorkingDirectory != "/work" {
		t.Errorf("WorkingDirectory = %q, want /work", call.Arguments.WorkingDirectory)
	}
	if call.ExitCode == nil || *call.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", call.ExitCode)
	}
	if call.Stdout != "go.mod\n" {
		t.Errorf("Stdout = %q, want %q", call.Stdout, "go.mod\n")
	}
	if call.ExecutionTimeMS != 12 {
		t.Errorf("ExecutionTimeMS = %d, want 12", call.ExecutionTimeMS)
	}
	if len(output.Messages) != 2 {
		t.Errorf("got %d assistant messages, want 2", len(output.Messages))
	}
	// system, user, and tool_call/started are well-formed but unused.
	if stats.Discarded != 3 {
		t.Errorf("Discarded = %d, want 3", stats.Discarded)
	}
}

func TestParseFallsBackToAssistantMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name: "no result event",
			stream: `{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"second"},{"type":"image","text":"x"}]}}`,
			want: "first\n\nsecond",
		},
		{
			name: "empty result does not override",
			stream: `{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}
{"type":"result","subtype":"success","result":""}`,
			want: "partial",
		},
		{
			name: "error result ignored",
			stream: `{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}
{"type":"result","subtype":"error","result":"boom"}`,
			want: "partial",
		},
		{
			name:   "nothing at all",
			stream: "",
			want:   "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			output, _ := Parse([]byte(test.stream))
			if output.Text != test.want {
				t.Errorf("Text = %q, want %q", output.Text, test.want)
			}
		})
	}
}

func TestParseThinkingCompletedWithoutDeltas(t *testing.T) {
	t.Parallel()

	output, _ := Parse([]byte(`{"type":"thinking","subtype":"completed","text":"whole block"}`))
	if output.Thinking != "whole block" {
		t.Errorf("Thinking = %q, want %q", output.Thinking, "whole block")
	}
}

func TestParseDropsNonShellAndResultlessToolCalls(t *testing.T) {
	t.Parallel()

	stream := `{"type":"tool_call","subtype":"completed","tool_call":{"readToolCall":{"args":{"path":"a.go"}}}}
{"type":"tool_call","subtype":"completed","tool_call":{"shellToolCall":{"args":{"command":"false"},"result":{"rejected":{}}}}}`
	output, _ := Parse([]byte(stream))
	if len(output.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(output.ToolCalls))
	}
	if output.ToolCalls[0].ExitCode != nil {
		t.Errorf("ExitCode = %d, want nil for a call without a success result", *output.ToolCalls[0].ExitCode)
	}
}

func TestParseIsTotal(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"not json\n",
		"[1,2,3]\n",
		"42\n",
		"null\n",
		`{"type":"assistant","message":{"content":"not an array"}}` + "\n",
		`{"type":"thinking","subtype":"delta","text":7}` + "\n",
		`{"type":"result","subtype":"success","result":{"nested":true}}` + "\n",
		"{\"type\":\"assistant\"",
		"\n\n   \n",
		"\x00\xff\xfe",
	}
	for _, input := range inputs {
		output, _ := Parse([]byte(input))
		if output.Text != "" || output.ToolCalls != nil || output.Thinking != "" {
			t.Errorf("Parse(%q) = %+v, want empty output", input, output)
		}
	}
}

func TestParseSkipsMalformedBetweenGoodLines(t *testing.T) {
	t.Parallel()

	stream := `{"type":"thinking","subtype":"delta","text":"a"}
garbage {{{
{"type":"thinking","subtype":"delta","text":"b"}
{"type":"result","subtype":"success","result":"done"}
`
	output, stats := Parse([]byte(stream))
	if output.Thinking != "ab" || output.Text != "done" {
		t.Errorf("got thinking %q text %q, want ab / done", output.Thinking, output.Text)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	t.Parallel()

	first, _ := Parse([]byte(sampleToolStream))
	second, _ := Parse([]byte(sampleToolStream))
	if first.Text != second.Text || first.Thinking != second.Thinking || len(first.ToolCalls) != len(second.ToolCalls) {
		t.Errorf("two parses of the same stream differ: %+v vs %+v", first, second)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    Kind
		wantErr bool
	}{
		{`{"type":"thinking","subtype":"delta","text":"x"}`, KindThinkingDelta, false},
		{`{"type":"thinking","subtype":"completed","text":"x"}`, KindThinkingCompleted, false},
		{`{"type":"thinking","subtype":"other"}`, KindDiscard, false},
		{`{"type":"assistant","message":{"content":[]}}`, KindAssistant, false},
		{`{"type":"result","subtype":"success","result":"r"}`, KindResultSuccess, false},
		{`{"type":"future_kind"}`, KindDiscard, false},
		{``, KindDiscard, false},
		{`{"type":`, KindDiscard, true},
	}
	for _, test := range tests {
		event, err := ParseLine([]byte(test.line))
		if test.wantErr {
			if !errors.Is(err, ErrMalformedLine) {
				t.Errorf("ParseLine(%q) error = %v, want ErrMalformedLine", test.line, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLine(%q) error = %v", test.line, err)
			continue
		}
		if event.Kind != test.want {
			t.Errorf("ParseLine(%q).Kind = %s, want %s", test.line, event.Kind, test.want)
		}
	}
}

func TestParseReaderMatchesParse(t *testing.T) {
	t.Parallel()

	// A line longer than any fixed scanner buffer.
	long := strings.Repeat("x", 2*1024*1024)
	stream := sampleToolStream + `{"type":"assistant","message":{"content":[{"type":"text","text":"` + long + `"}]}}` + "\n"

	fromReader, stats, err := ParseReader(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	fromBytes, _ := Parse([]byte(stream))
	if fromReader.Text != fromBytes.Text {
		t.Errorf("ParseReader Text = %q, want %q", fromReader.Text, fromBytes.Text)
	}
	if len(fromReader.Messages) != 3 || len(fromReader.Messages[2]) != len(long) {
		t.Errorf("long assistant message was not read whole")
	}
	if stats.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", stats.Skipped)
	}
}

type failingReader struct {
	data string
	done bool
}

func (reader *failingReader) Read(buffer []byte) (int, error) {
	if reader.done {
		return 0, io.ErrUnexpectedEOF
	}
	reader.done = true
	return copy(buffer, reader.data), nil
}

func TestParseReaderReturnsReadErrors(t *testing.T) {
	t.Parallel()

	reader := &failingReader{data: `{"type":"result","subtype":"success","result":"partial"}` + "\n"}
	output, _, err := ParseReader(reader)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
	if output.Text != "partial" {
		t.Errorf("Text = %q, want lines before the error to be reduced", output.Text)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if got := KindToolCallCompleted.String(); got != "tool_call_completed" {
		t.Errorf("String() = %q, want tool_call_completed", got)
	}
	if got := Kind(99).String(); got != "Kind(99)" {
		t.Errorf("String() = %q, want Kind(99)", got)
	}
}
