// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcmd

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "sonnet-4.5-thinking"

// models is the allow-list of identifiers the agent accepts.
var models = []string{
	"composer-1",
	"auto",
	"sonnet-4.5",
	"sonnet-4.5-thinking",
	"gpt-5",
	"gpt-5-codex",
	"gpt-5-codex-high",
	"opus-4.1",
	"grok",
}

// Models returns the allowed model identifiers in display order.
func Models() []string {
	return slices.Clone(models)
}

// ValidateModel reports whether name is on the allow-list.
func ValidateModel(name string) error {
	if slices.Contains(models, name) {
		return nil
	}
	return &ValidationError{
		Field: "model",
		Err:   fmt.Errorf("%w %q (available: %s)", ErrUnknownModel, name, strings.Join(models, ", ")),
	}
}
