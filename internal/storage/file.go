// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// recordExt is appended to every key to form the file name.
const recordExt = ".json"

// FileStore stores each record as its own file under BaseDir.
type FileStore struct {
	// BaseDir is the directory holding the record files.
	// Default: ~/.rigchat/data/
	BaseDir string

	mu sync.RWMutex
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, &StoreError{Op: "open", Message: "data directory is required"}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, opError("open", "", err)
	}
	return &FileStore{BaseDir: dir}, nil
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.BaseDir, key+recordExt)
}

// Get implements Store.
func (s *FileStore) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok, err := util.ReadFileIfExists(s.Path(key))
	if err != nil {
		return nil, opError("get", key, err)
	}
	if !ok {
		return nil, notFound(key)
	}
	return data, nil
}

// Set implements Store.
// RELIABILITY: Atomic write prevents a torn record on crash.
func (s *FileStore) Set(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFileWithDir(s.Path(key), value, 0600, 0700); err != nil {
		return opError("set", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return opError("remove", key, err)
	}
	return nil
}

// Close implements Store. A file store holds no open handles.
func (s *FileStore) Close() error {
	return nil
}
