// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrLastMatchInvalidJSON is returned for text that looks like JSON but does not
// parse. Callers ask the user before falling back to RawLastMatch.
var ErrLastMatchInvalidJSON = errors.New("lastMatch looks like JSON but is not valid")

// ParseLastMatch converts edited text into a lastMatch value. Text starting with
// '{', '[' or '"' must be valid JSON; anything else is stored as a string.
func ParseLastMatch(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return json.RawMessage(`""`), nil
	}
	if looksLikeJSON(trimmed) {
		if !json.Valid([]byte(trimmed)) {
			return nil, ErrLastMatchInvalidJSON
		}
		return json.RawMessage(trimmed), nil
	}
	return RawLastMatch(trimmed), nil
}

// RawLastMatch stores text verbatim as a JSON string.
func RawLastMatch(text string) json.RawMessage {
	b, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}

// LastMatchText renders a stored lastMatch for editing: strings unquoted,
// structured values as compact JSON.
func LastMatchText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func looksLikeJSON(s string) bool {
	return s[0] == '{' || s[0] == '[' || s[0] == '"'
}
