// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
)

// Record keys used by rigchat.
const (
	KeySettings = "llm-chat-settings"
	KeyHistory  = "llm-chat-history"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Store is a durable key-value store with whole-value overwrite semantics.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set replaces the value for key.
	Set(key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Close releases the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of BackendFile, BackendSQLite, BackendBadger, BackendMemory.
	Backend string

	// Dir is the data directory for persistent backends.
	Dir string
}

// Open creates the configured backend.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendSQLite:
		return OpenSQLite(cfg.Dir)
	case BackendBadger:
		bcfg := DefaultBadgerConfig()
		bcfg.Path = filepath.Join(cfg.Dir, "badger")
		bcfg.Logger = logger.With("component", "badger")
		return OpenBadger(bcfg)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned by Get when a key has no value.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &StoreError{Op: "get", Message: "record not found"}

// ErrInvalidKey is returned for keys that are empty or contain characters
// outside [A-Za-z0-9._-].
var ErrInvalidKey = &StoreError{Op: "validate", Message: "invalid record key"}

// StoreError describes a failed store operation.
type StoreError struct {
	Op      string
	Key     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %s", e.Op, e.Key, msg)
	}
	return fmt.Sprintf("storage %s: %s", e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches store errors by message so that keyed instances of ErrNotFound
// and ErrInvalidKey still compare equal to the sentinels.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Message != "" && e.Message == t.Message
}

func notFound(key string) error {
	return &StoreError{Op: "get", Key: key, Message: ErrNotFound.Message}
}

func opError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return &StoreError{Op: "validate", Key: key, Message: ErrInvalidKey.Message}
	}
	return nil
}
