// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/storage"
)

func TestWatcher_ReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	s := New(files, &fakeCatalog{}, testDefaults(), nil)
	s.Load()
	require.NoError(t, s.Save())

	reloaded := make(chan Snapshot, 4)
	w, err := NewWatcher(s, files.Path(storage.KeySettings), 20*time.Millisecond, func(snap Snapshot) {
		reloaded <- snap
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Another process writes the record.
	other, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Set(storage.KeySettings, []byte(`{"selectedModel":"meta/llama-3:free"}`)))

	select {
	case snap := <-reloaded:
		assert.Equal(t, "meta/llama-3:free", snap.SelectedModel)
	case <-time.After(5 * time.Second):
		t.Fatal("settings were not reloaded")
	}
	assert.Equal(t, "meta/llama-3:free", s.SelectedModel())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	s, _ := newTestStore(t, nil)
	_, err := NewWatcher(s, "/nonexistent/dir/llm-chat-settings.json", 0, nil)
	assert.Error(t, err)
}
