// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// STATES
// =============================================================================

// State is a stage of one completion request.
type State int

const (
	// StateIdle accepts a new send.
	StateIdle State = iota
	// StateSending has issued the request and awaits the response status.
	StateSending
	// StateStreaming is consuming the response body.
	StateStreaming
	// StateCompleted reached end of data; one turn was committed.
	StateCompleted
	// StateAborted was cancelled by the caller.
	StateAborted
	// StateFailed hit a transport, status, read or timeout error.
	StateFailed
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether s ends a request.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// =============================================================================
// EVENTS AND TRANSITIONS
// =============================================================================

// Event drives the state machine.
type Event int

const (
	// EventSend starts a request.
	EventSend Event = iota
	// EventResponseOK is a 2xx response status.
	EventResponseOK
	// EventEndOfData is end of body or the [DONE] sentinel.
	EventEndOfData
	// EventCancel is a caller cancellation.
	EventCancel
	// EventError is any failure.
	EventError
	// EventReset returns a terminal state to idle.
	EventReset
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventSend:
		return "send"
	case EventResponseOK:
		return "response_ok"
	case EventEndOfData:
		return "end_of_data"
	case EventCancel:
		return "cancel"
	case EventError:
		return "error"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned for an event the current state does not
// accept.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the complete state table.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventSend: StateSending,
	},
	StateSending: {
		EventResponseOK: StateStreaming,
		EventCancel:     StateAborted,
		EventError:      StateFailed,
	},
	StateStreaming: {
		EventEndOfData: StateCompleted,
		EventCancel:    StateAborted,
		EventError:     StateFailed,
	},
	StateCompleted: {EventReset: StateIdle},
	StateAborted:   {EventReset: StateIdle},
	StateFailed:    {EventReset: StateIdle},
}

// transition returns the state reached from s on e.
func transition(s State, e Event) (State, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}
