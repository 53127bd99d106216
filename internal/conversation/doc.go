// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation stores the ordered list of conversations and tracks
// which one is active.
//
// The collection is persisted as a single JSON record after every mutation:
//
//	[
//	  {"id": "...", "title": "New chat", "createdAt": "...", "updatedAt": "...",
//	   "messages": [{"role": "user", "content": "hi"}]}
//	]
//
// Conversations are kept newest first. A conversation's own system prompt,
// when set, overrides the global prompt from the settings store.
package conversation
