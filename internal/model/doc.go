// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and turns.
//
// This package defines the core domain types shared by the settings store,
// the conversation store and the stream engine.
//
// # Key Types
//
//   - Conversation: an ordered list of turns plus title and timestamps
//   - Turn: a single message with role, content and optional reasoning/usage
//   - Role: turn role enumeration (system, user, assistant)
//   - ModelInfo: a normalized catalog entry from the inference provider
//
// Records decode fail-closed: an unknown role, a reasoning trace on a user
// turn, or a conversation without an id is rejected as a whole.
//
// # Usage
//
//	conv := model.NewConversation(time.Now())
//	if err := conv.Append(model.UserTurn("Hello!"), time.Now()); err != nil {
//	    return err
//	}
package model
