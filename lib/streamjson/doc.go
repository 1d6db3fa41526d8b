// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streamjson decodes the agent's line-delimited stream-json
// output and reduces it to the final answer, the accumulated reasoning,
// and the shell tool calls the agent completed along the way.
//
// Each line is decoded independently by [ParseLine] into a closed
// tagged union ([Event] with a [Kind] and one typed payload). Lines
// that are not JSON objects, or whose fields have the wrong shape, are
// reported as errors by ParseLine and skipped by the [Reducer]; event
// kinds the reducer does not use decode to [KindDiscard]. The
// reduction is therefore total: any input produces a well-formed
// [Output] whose Text is never missing, only possibly empty.
//
// Reduction rules:
//
//   - thinking/delta text is appended to the reasoning buffer.
//     thinking/completed text is used only when no delta text was seen.
//   - tool_call/completed events carrying a shell tool payload produce
//     a [ToolCall] record; other tool payloads and in-flight
//     subtypes are dropped.
//   - assistant events contribute their text content items to the
//     intermediate message list.
//   - result/success carries the authoritative answer. A non-empty
//     result overrides the intermediate messages; otherwise the
//     messages are joined with a blank line.
package streamjson
