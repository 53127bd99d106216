// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrIndexOutOfRange is returned when an index does not name a conversation.
	ErrIndexOutOfRange = errors.New("conversation index out of range")

	// ErrNotFound is returned when no conversation has the requested id.
	ErrNotFound = errors.New("conversation not found")

	// ErrNoActive is returned when an operation needs an active conversation
	// and none exist.
	ErrNoActive = errors.New("no active conversation")
)

// PromptSource supplies the global system prompt.
type PromptSource interface {
	SystemPrompt() string
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the ordered conversation collection, newest first, and the
// active index. Every mutation is persisted before the method returns. All
// methods are safe for concurrent use and hand out copies.
type Store struct {
	records storage.Store
	prompts PromptSource
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	convs  []*model.Conversation
	active int
}

// New creates an empty store. Call Restore to load the persisted collection.
func New(records storage.Store, prompts PromptSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: records,
		prompts: prompts,
		logger:  logger.With("component", "conversation"),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateConversation inserts a new empty conversation at the front, makes it
// active and persists. The returned copy is valid even if persisting failed.
func (s *Store) CreateConversation() (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.createLocked()
	return conv.Clone(), s.persistLocked()
}

func (s *Store) createLocked() *model.Conversation {
	conv := model.NewConversation(s.now())
	s.convs = append([]*model.Conversation{conv}, s.convs...)
	s.active = 0
	s.logger.Debug("conversation created", "id", conv.ID)
	return conv
}

// SetActive switches the active conversation. An out-of-range index leaves
// the state unchanged.
func (s *Store) SetActive(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.convs) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.convs))
	}
	s.active = index
	return nil
}

// AppendTurn appends a turn to the active conversation, creating one when
// the collection is empty.
func (s *Store) AppendTurn(turn model.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.convs) == 0 {
		s.createLocked()
	}
	if err := s.convs[s.active].Append(turn, s.now()); err != nil {
		return err
	}
	return s.persistLocked()
}

// AppendTurnTo appends a turn to the conversation with the given id,
// whether or not it is active.
func (s *Store) AppendTurnTo(id string, turn model.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(id)
	if conv == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := conv.Append(turn, s.now()); err != nil {
		return err
	}
	return s.persistLocked()
}

// SetSystemPromptOverride sets the active conversation's system prompt. An
// empty prompt restores the global one.
func (s *Store) SetSystemPromptOverride(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.convs) == 0 {
		return ErrNoActive
	}
	conv := s.convs[s.active]
	conv.SystemPrompt = prompt
	conv.Touch(s.now())
	return s.persistLocked()
}

// DeleteConversation removes the conversation at index. The active index
// keeps pointing at the same conversation when possible.
func (s *Store) DeleteConversation(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.convs) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.convs))
	}
	id := s.convs[index].ID
	s.convs = append(s.convs[:index], s.convs[index+1:]...)

	switch {
	case len(s.convs) == 0:
		s.active = 0
	case s.active > index:
		s.active--
	case s.active >= len(s.convs):
		s.active = len(s.convs) - 1
	}
	s.logger.Debug("conversation deleted", "id", id)
	return s.persistLocked()
}

// Clear removes every conversation and persists the empty collection.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = nil
	s.active = 0
	return s.persistLocked()
}

// =============================================================================
// READERS
// =============================================================================

// EffectiveSystemPrompt returns the active conversation's override when set,
// else the global prompt.
func (s *Store) EffectiveSystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.convs) > 0 {
		if p := s.convs[s.active].SystemPrompt; p != "" {
			return p
		}
	}
	if s.prompts == nil {
		return ""
	}
	return s.prompts.SystemPrompt()
}

// Conversations returns copies of all conversations, newest first.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.convs) == 0 {
		return nil, false
	}
	return s.convs[s.active].Clone(), true
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(id string) (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.findLocked(id)
	if conv == nil {
		return nil, false
	}
	return conv.Clone(), true
}

// ActiveIndex returns the index of the active conversation.
func (s *Store) ActiveIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func (s *Store) findLocked(id string) *model.Conversation {
	for _, c := range s.convs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persist writes the whole collection as one record.
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	convs := s.convs
	if convs == nil {
		convs = []*model.Conversation{}
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.records.Set(storage.KeyHistory, data); err != nil {
		s.logger.Error("failed to persist history", "error", err)
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// Restore replaces the collection with the persisted record. An absent or
// undecodable record leaves the collection empty.
func (s *Store) Restore() {
	data, err := s.records.Get(storage.KeyHistory)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = nil
	s.active = 0

	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("history record unreadable, starting empty", "error", err)
		}
		return
	}

	var convs []*model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		s.logger.Warn("history record corrupt, starting empty", "error", err)
		return
	}
	for _, c := range convs {
		if c == nil {
			s.logger.Warn("history record contains null conversation, starting empty")
			return
		}
	}
	s.convs = convs
	s.logger.Debug("history restored", "conversations", len(convs))
}
