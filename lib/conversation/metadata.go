// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

const metadataVersion = 10

// ErrCorruptMetadata means a session's composerData value is not a
// JSON object, or its header list is not an array.
var ErrCorruptMetadata = errors.New("conversation: corrupt session metadata")

// Header is one entry of a session's fullConversationHeadersOnly list.
type Header struct {
	BubbleID string `json:"bubbleId"`
	Type     Role   `json:"type"`
}

func composerKey(sessionID string) string {
	return "composerData:" + sessionID
}

func bubbleKey(sessionID, bubbleID string) string {
	return "bubbleId:" + sessionID + ":" + bubbleID
}

// newMetadata is the minimal metadata of a session created here.
func newMetadata(sessionID, name string, nowMillis int64) map[string]any {
	return map[string]any{
		"_v":                          metadataVersion,
		"composerId":                  sessionID,
		"name":                        name,
		"text":                        "",
		"richText":                    emptyRichText,
		"fullConversationHeadersOnly": []Header{},
		"createdAt":                   nowMillis,
		"lastUpdatedAt":               nowMillis,
		"isArchived":                  false,
		"isDraft":                     false,
		"hasLoaded":                   true,
		"totalLinesAdded":             0,
		"totalLinesRemoved":           0,
	}
}

// metadataBackfill returns the fields older sessions may lack, with
// the values a session created now would carry.
func metadataBackfill(sessionID string, nowMillis int64) map[string]any {
	return map[string]any{
		"_v":         metadataVersion,
		"composerId": sessionID,
		"name":       DefaultSessionName,
		"createdAt":  nowMillis,
		"hasLoaded":  true,
		"text":       "",
		"richText":   emptyRichText,
	}
}

// appendHeaders adds headers to the metadata of sessionID in raw,
// filling in missing fields and stamping lastUpdatedAt. Fields it does
// not recognize, including extra fields on existing headers, are kept.
func appendHeaders(raw []byte, sessionID string, headers []Header, nowMillis int64) ([]byte, error) {
	var metadata map[string]json.RawMessage
	if err := json.Unmarshal(raw, &metadata); err != nil || metadata == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrCorruptMetadata)
	}

	for name, value := range metadataBackfill(sessionID, nowMillis) {
		if _, ok := metadata[name]; ok {
			continue
		}
		encoded, err := marshalJSON(value)
		if err != nil {
			return nil, err
		}
		metadata[name] = encoded
	}

	var existing []json.RawMessage
	if raw, ok := metadata["fullConversationHeadersOnly"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, fmt.Errorf("%w: fullConversationHeadersOnly is not an array", ErrCorruptMetadata)
		}
	}
	for _, header := range headers {
		encoded, err := marshalJSON(header)
		if err != nil {
			return nil, err
		}
		existing = append(existing, encoded)
	}
	if existing == nil {
		existing = []json.RawMessage{}
	}

	var err error
	if metadata["fullConversationHeadersOnly"], err = marshalJSON(existing); err != nil {
		return nil, err
	}
	if metadata["lastUpdatedAt"], err = marshalJSON(nowMillis); err != nil {
		return nil, err
	}
	return marshalJSON(metadata)
}
