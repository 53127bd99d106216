// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

const (
	// DefaultTitle is the title of a conversation before its first user turn.
	DefaultTitle = "New chat"

	// TitleMaxRunes is the number of characters of the first user turn kept
	// in a derived title.
	TitleMaxRunes = 30

	// titleEllipsis marks a truncated title.
	titleEllipsis = "..."
)

// ErrInvalidConversation is returned when a conversation record is malformed.
var ErrInvalidConversation = errors.New("invalid conversation")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered list of turns with its metadata.
//
// SystemPrompt is an optional per-conversation override of the global system
// prompt; empty means "use the global one".
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Turns        []Turn    `json:"messages"`
	SystemPrompt string    `json:"customSystemPrompt,omitempty"`
}

// NewConversation creates an empty conversation stamped with now.
func NewConversation(now time.Time) *Conversation {
	return &Conversation{
		ID:        NewConversationID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     make([]Turn, 0),
	}
}

// NewConversationID returns a time-ordered unique identifier.
func NewConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// Append validates and appends a turn, then refreshes the metadata.
//
// UpdatedAt never moves backwards, even if now is earlier than the last
// recorded mutation. The title is derived only when the appended turn is the
// first turn and it comes from the user.
func (c *Conversation) Append(turn Turn, now time.Time) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	c.Turns = append(c.Turns, turn.Clone())
	c.Touch(now)
	if len(c.Turns) == 1 && turn.Role == RoleUser {
		c.Title = DeriveTitle(turn.Content)
	}
	return nil
}

// Touch advances UpdatedAt to now unless that would move it backwards.
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// LastTurn returns the most recent turn. The second return is false when the
// conversation is empty.
func (c *Conversation) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1].Clone(), true
}

// TurnCount returns the number of turns.
func (c *Conversation) TurnCount() int {
	return len(c.Turns)
}

// IsEmpty returns true if there are no turns.
func (c *Conversation) IsEmpty() bool {
	return len(c.Turns) == 0
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Turns = make([]Turn, len(c.Turns))
	for i, t := range c.Turns {
		clone.Turns[i] = t.Clone()
	}
	return &clone
}

// Preview returns a short preview of the last turn.
func (c *Conversation) Preview(maxRunes int) string {
	last, ok := c.LastTurn()
	if !ok {
		return "Empty conversation"
	}
	text := strings.Join(strings.Fields(last.Content), " ")
	return util.TruncateRunes(text, maxRunes)
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// DeriveTitle builds a conversation title from the first user turn: the first
// TitleMaxRunes characters, with an ellipsis appended when text was cut.
// Blank content yields DefaultTitle.
func DeriveTitle(content string) string {
	if strings.TrimSpace(content) == "" {
		return DefaultTitle
	}
	content = norm.NFC.String(content)
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes]) + titleEllipsis
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// UnmarshalJSON decodes a conversation and rejects malformed records.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	type rawConversation Conversation
	var raw rawConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConversation)
	}
	if raw.Turns == nil {
		raw.Turns = make([]Turn, 0)
	}
	if raw.Title == "" {
		raw.Title = DefaultTitle
	}
	if raw.UpdatedAt.Before(raw.CreatedAt) {
		raw.UpdatedAt = raw.CreatedAt
	}
	*c = Conversation(raw)
	return nil
}
