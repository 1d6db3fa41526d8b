// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentrelay/lib/streamjson"
)

// Role is the bubble "type" field.
type Role int

const (
	RoleUser      Role = 1
	RoleAssistant Role = 2
)

func (role Role) String() string {
	switch role {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	}
	return fmt.Sprintf("Role(%d)", int(role))
}

const (
	bubbleVersion = 3
	unifiedMode   = 5
)

// collectionFields must be present as arrays, normally empty.
var collectionFields = []string{
	"approximateLintErrors", "lints", "codebaseContextChunks", "commits",
	"pullRequests", "attachedCodeChunks", "assistantSuggestedDiffs", "gitDiffs",
	"interpreterResults", "images", "attachedFolders", "attachedFoldersNew",
	"toolResults", "notepads", "capabilities", "multiFileLinterErrors",
	"diffHistories", "recentLocationsHistory", "recentlyViewedFiles",
	"fileDiffTrajectories", "docsReferences", "webReferences",
	"aiWebSearchResults", "attachedFoldersListDirResults", "humanChanges",
	"allThinkingBlocks", "attachedFileCodeChunksMetadataOnly",
	"capabilityContexts", "consoleLogs", "contextPieces", "cursorRules",
	"deletedFiles", "diffsForCompressingFiles", "diffsSinceLastApply",
	"documentationSelections", "editTrailContexts", "externalLinks",
	"knowledgeItems", "projectLayouts", "relevantFiles",
	"suggestedCodeBlocks", "summarizedComposers", "todos", "uiElementPicked",
	"userResponsesToSuggestedCodeBlocks",
}

// capabilityPhases are the keys of capabilityStatuses.
var capabilityPhases = []string{
	"mutate-request", "start-submit-chat", "before-submit-chat",
	"chat-stream-finished", "before-apply", "after-apply",
	"accept-all-edits", "composer-done", "process-stream",
	"add-pending-action",
}

// contextFields are the keys of the context object.
var contextFields = []string{
	"composers", "quotes", "selectedCommits", "selectedPullRequests",
	"selectedImages", "folderSelections", "fileSelections", "terminalFiles",
	"selections", "terminalSelections", "selectedDocs", "externalLinks",
	"cursorRules", "cursorCommands", "uiElementSelections", "consoleLogs",
	"mentions",
}

var supportedTools = []int{1, 41, 7, 38, 8, 9, 11, 12, 15, 18, 19, 25, 27, 43, 46, 47, 29, 30, 32, 34, 35, 39, 40, 42, 44, 45}

// Bubble is one turn before encoding.
type Bubble struct {
	ID           string
	Role         Role
	Text         string
	CreatedAt    time.Time
	RequestID    string
	CheckpointID string

	// Thinking, ToolCalls, and Model are used for assistant turns.
	// Only the first tool call is stored; the editor's format has a
	// single toolFormerData slot.
	Thinking  string
	ToolCalls []streamjson.ToolCall
	Model     string
}

// NewBubble creates a bubble with fresh ids.
func NewBubble(role Role, text string, createdAt time.Time) Bubble {
	return Bubble{
		ID:           uuid.NewString(),
		Role:         role,
		Text:         text,
		CreatedAt:    createdAt,
		RequestID:    uuid.NewString(),
		CheckpointID: uuid.NewString(),
	}
}

// createdAtLayout is ISO 8601 in UTC with microseconds and a Z suffix.
const createdAtLayout = "2006-01-02T15:04:05.000000Z"

// Encode renders the full bubble envelope as JSON.
func (b Bubble) Encode() ([]byte, error) {
	richText, err := bubbleRichText(b.Text)
	if err != nil {
		return nil, err
	}

	envelope := make(map[string]any, 80)
	for _, field := range collectionFields {
		envelope[field] = []any{}
	}

	statuses := make(map[string][]any, len(capabilityPhases))
	for _, phase := range capabilityPhases {
		statuses[phase] = []any{}
	}
	contextObject := make(map[string][]any, len(contextFields))
	for _, field := range contextFields {
		contextObject[field] = []any{}
	}

	envelope["_v"] = bubbleVersion
	envelope["type"] = int(b.Role)
	envelope["text"] = b.Text
	envelope["bubbleId"] = b.ID
	envelope["createdAt"] = b.CreatedAt.UTC().Format(createdAtLayout)
	envelope["capabilityStatuses"] = statuses
	envelope["context"] = contextObject
	envelope["supportedTools"] = supportedTools
	envelope["tokenCount"] = map[string]int{"inputTokens": 0, "outputTokens": 0}
	envelope["requestId"] = b.RequestID
	envelope["checkpointId"] = b.CheckpointID
	envelope["richText"] = richText
	envelope["unifiedMode"] = unifiedMode

	envelope["isAgentic"] = b.Role == RoleUser
	envelope["existedSubsequentTerminalCommand"] = false
	envelope["existedPreviousTerminalCommand"] = false
	envelope["editToolSupportsSearchAndReplace"] = true
	envelope["isNudge"] = false
	envelope["isPlanExecution"] = false
	envelope["isQuickSearchQuery"] = false
	envelope["isRefunded"] = false
	envelope["skipRendering"] = false
	envelope["useWeb"] = false

	if b.Thinking != "" {
		envelope["thinking"] = map[string]string{"text": b.Thinking}
	}
	if len(b.ToolCalls) > 0 {
		first := b.ToolCalls[0]
		rawArgs, err := marshalJSON(first.Arguments)
		if err != nil {
			return nil, fmt.Errorf("conversation: encoding tool arguments: %w", err)
		}
		envelope["toolFormerData"] = map[string]any{
			"name":           first.Name,
			"rawArgs":        string(rawArgs),
			"additionalData": map[string]any{},
		}
	}
	if b.Role == RoleAssistant && b.Model != "" {
		envelope["modelInfo"] = map[string]string{"modelName": b.Model}
	}

	encoded, err := marshalJSON(envelope)
	if err != nil {
		return nil, fmt.Errorf("conversation: encoding bubble %s: %w", b.ID, err)
	}
	return encoded, nil
}

// Lexical editor state. Field order matches what the editor writes.
type lexicalText struct {
	Detail  int    `json:"detail"`
	Format  int    `json:"format"`
	Mode    string `json:"mode"`
	Style   string `json:"style"`
	Text    string `json:"text"`
	Type    string `json:"type"`
	Version int    `json:"version"`
}

type lexicalParagraph struct {
	Children  []lexicalText `json:"children"`
	Direction *string       `json:"direction"`
	Format    string        `json:"format"`
	Indent    int           `json:"indent"`
	Type      string        `json:"type"`
	Version   int           `json:"version"`
}

type lexicalRoot struct {
	Children  []lexicalParagraph `json:"children"`
	Direction *string            `json:"direction"`
	Format    string             `json:"format"`
	Indent    int                `json:"indent"`
	Type      string             `json:"type"`
	Version   int                `json:"version"`
}

// bubbleRichText is the Lexical document holding text as a single
// paragraph, serialized to a JSON string.
func bubbleRichText(text string) (string, error) {
	document := struct {
		Root lexicalRoot `json:"root"`
	}{
		Root: lexicalRoot{
			Children: []lexicalParagraph{{
				Children: []lexicalText{{
					Mode:    "normal",
					Text:    text,
					Type:    "text",
					Version: 1,
				}},
				Type:    "paragraph",
				Version: 1,
			}},
			Type:    "root",
			Version: 1,
		},
	}
	encoded, err := marshalJSON(document)
	if err != nil {
		return "", fmt.Errorf("conversation: encoding rich text: %w", err)
	}
	return string(encoded), nil
}

// emptyRichText is the Lexical document of an empty composer input.
const emptyRichText = `{"root":{"children":[{"children":[],"format":"","indent":0,"type":"paragraph","version":1}],"format":"","indent":0,"type":"root","version":1}}`

// marshalJSON encodes without HTML escaping and without the trailing
// newline json.Encoder adds.
func marshalJSON(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}
