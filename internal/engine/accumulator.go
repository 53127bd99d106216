// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"sync"
)

// UpdateKind classifies an accumulator notification.
type UpdateKind int

const (
	// UpdateReasoning carries a reasoning fragment.
	UpdateReasoning UpdateKind = iota
	// UpdateContent carries a content fragment.
	UpdateContent
	// UpdateUsage carries a new usage snapshot.
	UpdateUsage
	// UpdateState reports an engine state change.
	UpdateState
	// UpdateReset reports that both buffers were cleared.
	UpdateReset
)

// Update is delivered to observers for every accumulator change.
type Update struct {
	Kind  UpdateKind
	Text  string
	Usage json.RawMessage
	State State
}

// Observer receives updates synchronously on the engine's goroutine. It must
// not call back into the engine's Send.
type Observer func(Update)

// Snapshot is a copy of the accumulated text.
type Snapshot struct {
	Reasoning string
	Content   string
	Usage     json.RawMessage
}

// Accumulator holds the reasoning and content of one in-flight request.
// Only the engine writes to it; observers read through Subscribe and
// Snapshot.
type Accumulator struct {
	mu        sync.Mutex
	reasoning strings.Builder
	content   strings.Builder
	usage     json.RawMessage

	observers map[int]Observer
	nextID    int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{observers: make(map[int]Observer)}
}

// Subscribe registers an observer and returns a function that removes it.
func (a *Accumulator) Subscribe(fn Observer) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.observers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

// AppendReasoning appends a reasoning fragment.
func (a *Accumulator) AppendReasoning(text string) {
	a.mu.Lock()
	a.reasoning.WriteString(text)
	a.mu.Unlock()
	a.notify(Update{Kind: UpdateReasoning, Text: text})
}

// AppendContent appends a content fragment.
func (a *Accumulator) AppendContent(text string) {
	a.mu.Lock()
	a.content.WriteString(text)
	a.mu.Unlock()
	a.notify(Update{Kind: UpdateContent, Text: text})
}

// SetUsage replaces the usage snapshot. The object is stored compacted, the
// form it takes once persisted.
func (a *Accumulator) SetUsage(raw json.RawMessage) {
	usage := compactJSON(raw)
	a.mu.Lock()
	a.usage = usage
	a.mu.Unlock()
	a.notify(Update{Kind: UpdateUsage, Usage: bytes.Clone(usage)})
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return bytes.Clone(raw)
	}
	return buf.Bytes()
}

// Reset clears both buffers and the usage snapshot.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.reasoning.Reset()
	a.content.Reset()
	a.usage = nil
	a.mu.Unlock()
	a.notify(Update{Kind: UpdateReset})
}

// Snapshot returns a copy of the accumulated state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Reasoning: a.reasoning.String(),
		Content:   a.content.String(),
		Usage:     bytes.Clone(a.usage),
	}
}

// HasContent reports whether any content has accumulated.
func (a *Accumulator) HasContent() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.Len() > 0
}

func (a *Accumulator) notifyState(s State) {
	a.notify(Update{Kind: UpdateState, State: s})
}

// notify calls observers outside the lock so they may read Snapshot.
func (a *Accumulator) notify(u Update) {
	a.mu.Lock()
	if len(a.observers) == 0 {
		a.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(a.observers))
	for id := range a.observers {
		ids = append(ids, id)
	}
	fns := make([]Observer, 0, len(ids))
	// Subscription order.
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, a.observers[id])
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
