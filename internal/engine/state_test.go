// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
	}{
		{StateIdle, EventSend, StateSending},
		{StateSending, EventResponseOK, StateStreaming},
		{StateSending, EventCancel, StateAborted},
		{StateSending, EventError, StateFailed},
		{StateStreaming, EventEndOfData, StateCompleted},
		{StateStreaming, EventCancel, StateAborted},
		{StateStreaming, EventError, StateFailed},
		{StateCompleted, EventReset, StateIdle},
		{StateAborted, EventReset, StateIdle},
		{StateFailed, EventReset, StateIdle},
	}

	for _, tc := range tests {
		t.Run(tc.from.String()+"/"+tc.ev.String(), func(t *testing.T) {
			got, err := transition(tc.from, tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransition_Rejects(t *testing.T) {
	invalid := []struct {
		from State
		ev   Event
	}{
		{StateIdle, EventResponseOK},
		{StateIdle, EventEndOfData},
		{StateIdle, EventReset},
		{StateSending, EventSend},
		{StateSending, EventEndOfData},
		{StateStreaming, EventSend},
		{StateCompleted, EventSend},
		{StateFailed, EventCancel},
	}

	for _, tc := range invalid {
		got, err := transition(tc.from, tc.ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tc.ev, tc.from)
		assert.Equal(t, tc.from, got)
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateIdle.IsTerminal())
	assert.False(t, StateSending.IsTerminal())
	assert.False(t, StateStreaming.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.Equal(t, "state(42)", State(42).String())
}

// =============================================================================
// ACCUMULATOR TESTS
// =============================================================================

func TestAccumulator_AppendAndReset(t *testing.T) {
	acc := NewAccumulator()
	acc.AppendReasoning("a")
	acc.AppendReasoning("b")
	acc.AppendContent("c")
	acc.SetUsage(json.RawMessage(`{"total_tokens":1}`))
	acc.SetUsage(json.RawMessage(`{"total_tokens":2}`))

	snap := acc.Snapshot()
	assert.Equal(t, "ab", snap.Reasoning)
	assert.Equal(t, "c", snap.Content)
	assert.JSONEq(t, `{"total_tokens":2}`, string(snap.Usage))
	assert.True(t, acc.HasContent())

	acc.Reset()
	assert.Equal(t, Snapshot{}, acc.Snapshot())
	assert.False(t, acc.HasContent())
}

func TestAccumulator_SubscribeOrderAndUnsubscribe(t *testing.T) {
	acc := NewAccumulator()
	var got []string

	unsubA := acc.Subscribe(func(u Update) { got = append(got, "a:"+u.Text) })
	unsubB := acc.Subscribe(func(u Update) { got = append(got, "b:"+u.Text) })

	acc.AppendContent("1")
	unsubA()
	acc.AppendContent("2")
	unsubB()
	acc.AppendContent("3")

	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
}

func TestAccumulator_UsageIsCopied(t *testing.T) {
	acc := NewAccumulator()
	raw := json.RawMessage(`{"total_tokens":1}`)
	acc.SetUsage(raw)
	raw[2] = 'X'

	assert.JSONEq(t, `{"total_tokens":1}`, string(acc.Snapshot().Usage))
}

func TestAccumulator_UsageIsCompacted(t *testing.T) {
	acc := NewAccumulator()
	var seen json.RawMessage
	defer acc.Subscribe(func(u Update) {
		if u.Kind == UpdateUsage {
			seen = u.Usage
		}
	})()

	acc.SetUsage(json.RawMessage("{\"total_tokens\": 5,\n \"cost\": 0}"))
	assert.Equal(t, `{"total_tokens":5,"cost":0}`, string(acc.Snapshot().Usage))
	assert.Equal(t, `{"total_tokens":5,"cost":0}`, string(seen))
}
