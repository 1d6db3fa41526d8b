// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidBubble means an encoded bubble lacks a field the editor
// requires. Seeing it is a bug in the builder, not bad input.
var ErrInvalidBubble = errors.New("conversation: invalid bubble")

// requiredScalars must be present and non-null.
var requiredScalars = []string{
	"_v", "type", "text", "bubbleId", "createdAt", "requestId",
	"checkpointId", "richText", "tokenCount", "capabilityStatuses",
	"context",
}

// ValidateEncoded checks an encoded bubble against the minimum the
// editor needs to render it. Problems are collected, not short
// circuited, and reported in one error wrapping ErrInvalidBubble.
func ValidateEncoded(encoded []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return fmt.Errorf("%w: not a JSON object: %v", ErrInvalidBubble, err)
	}

	var problems []string
	present := func(name string) bool {
		raw, ok := fields[name]
		return ok && !isNull(raw)
	}

	for _, name := range requiredScalars {
		if !present(name) {
			problems = append(problems, "missing "+name)
		}
	}
	for _, name := range collectionFields {
		if !isArray(fields[name]) {
			problems = append(problems, name+" must be an array")
		}
	}

	if present("type") {
		var role int
		if json.Unmarshal(fields["type"], &role) != nil || (Role(role) != RoleUser && Role(role) != RoleAssistant) {
			problems = append(problems, "type must be 1 or 2")
		}
	}
	for _, name := range []string{"bubbleId", "requestId", "checkpointId", "createdAt"} {
		if present(name) && !isNonEmptyString(fields[name]) {
			problems = append(problems, name+" must be a non-empty string")
		}
	}

	if present("richText") {
		var richText string
		if json.Unmarshal(fields["richText"], &richText) != nil || !json.Valid([]byte(richText)) {
			problems = append(problems, "richText must be a string holding JSON")
		}
	}

	if present("capabilityStatuses") {
		var statuses map[string]json.RawMessage
		if json.Unmarshal(fields["capabilityStatuses"], &statuses) != nil {
			problems = append(problems, "capabilityStatuses must be an object")
		} else {
			for _, phase := range capabilityPhases {
				if !isArray(statuses[phase]) {
					problems = append(problems, "capabilityStatuses."+phase+" must be an array")
				}
			}
		}
	}

	if present("tokenCount") {
		var counts map[string]json.RawMessage
		if json.Unmarshal(fields["tokenCount"], &counts) != nil {
			problems = append(problems, "tokenCount must be an object")
		} else {
			for _, name := range []string{"inputTokens", "outputTokens"} {
				if raw, ok := counts[name]; !ok || isNull(raw) {
					problems = append(problems, "tokenCount."+name+" is required")
				}
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("%w: %s", ErrInvalidBubble, strings.Join(problems, "; "))
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isNonEmptyString(raw json.RawMessage) bool {
	var value string
	return json.Unmarshal(raw, &value) == nil && value != ""
}
