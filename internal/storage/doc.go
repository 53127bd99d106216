// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable key-value store behind rigchat's
// settings and conversation history.
//
// Each record is a single opaque value (JSON in practice) stored under a
// short key and fully overwritten on every Set.
//
// # Backends
//
//   - FileStore: one file per key, written atomically (default)
//   - SQLiteStore: a single kv table in a SQLite database
//   - BadgerStore: an embedded BadgerDB key-value store
//   - MemoryStore: process-local map, for tests
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Backend: storage.BackendFile, Dir: dir}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	data, err := store.Get("llm-chat-settings")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // first run
//	}
package storage
