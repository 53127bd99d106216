// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// ErrInvalidTurn is returned when a turn violates the role rules.
var ErrInvalidTurn = errors.New("invalid turn")

// Turn is one message in a conversation.
//
// Reasoning and Usage are only valid on assistant turns. Usage is kept
// verbatim as it arrived on the wire.
type Turn struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
}

// UserTurn creates a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn creates an assistant turn with no reasoning or usage.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// SystemTurn creates a system turn.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// Validate checks the role rules for a turn.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
	if t.Role != RoleAssistant {
		if t.Reasoning != "" {
			return fmt.Errorf("%w: reasoning on %s turn", ErrInvalidTurn, t.Role)
		}
		if len(t.Usage) > 0 {
			return fmt.Errorf("%w: usage on %s turn", ErrInvalidTurn, t.Role)
		}
	}
	if len(t.Usage) > 0 && !json.Valid(t.Usage) {
		return fmt.Errorf("%w: usage is not valid JSON", ErrInvalidTurn)
	}
	return nil
}

// HasReasoning reports whether the turn carries a reasoning trace.
func (t Turn) HasReasoning() bool {
	return t.Reasoning != ""
}

// Clone returns a copy that shares no memory with t.
func (t Turn) Clone() Turn {
	if t.Usage != nil {
		t.Usage = bytes.Clone(t.Usage)
	}
	return t
}

// UnmarshalJSON decodes a turn and rejects it when the role rules are broken.
func (t *Turn) UnmarshalJSON(data []byte) error {
	type rawTurn Turn
	var raw rawTurn
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// A literal null usage is treated as absent.
	if bytes.Equal(bytes.TrimSpace(raw.Usage), []byte("null")) {
		raw.Usage = nil
	}
	decoded := Turn(raw)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*t = decoded
	return nil
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// TokenUsage is a typed view over the usage object reported by the provider.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// ParsedUsage decodes the turn's usage. The second return is false when the
// turn has no usage.
func (t Turn) ParsedUsage() (TokenUsage, bool, error) {
	if len(t.Usage) == 0 {
		return TokenUsage{}, false, nil
	}
	var u TokenUsage
	if err := json.Unmarshal(t.Usage, &u); err != nil {
		return TokenUsage{}, true, fmt.Errorf("failed to parse usage: %w", err)
	}
	return u, true, nil
}
