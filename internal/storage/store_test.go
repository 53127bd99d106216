// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BACKEND CONTRACT TESTS
// =============================================================================

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger(InMemoryBadgerConfig())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })

			_, err := s.Get(KeySettings)
			assert.True(t, errors.Is(err, ErrNotFound), "Get on empty store: %v", err)

			require.NoError(t, s.Set(KeySettings, []byte(`{"a":1}`)))
			got, err := s.Get(KeySettings)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(got))

			require.NoError(t, s.Set(KeySettings, []byte(`{"a":2}`)))
			got, err = s.Get(KeySettings)
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got), "Set must overwrite")

			// Other keys are independent.
			_, err = s.Get(KeyHistory)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Remove(KeySettings))
			_, err = s.Get(KeySettings)
			assert.ErrorIs(t, err, ErrNotFound)

			// Removing a missing key is fine.
			assert.NoError(t, s.Remove(KeySettings))
		})
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })

			for _, key := range []string{"", "..", "../escape", "a/b", "sp ace"} {
				assert.ErrorIs(t, s.Set(key, []byte("x")), ErrInvalidKey, "key %q", key)
			}
		})
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set(KeyHistory, []byte(`[]`)))

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(KeyHistory)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	info, err := os.Stat(s2.Path(KeyHistory))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSQLiteStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set(KeySettings, []byte(`{"k":true}`)))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(KeySettings)
	require.NoError(t, err)
	assert.Equal(t, `{"k":true}`, string(got))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	in := []byte("abc")
	require.NoError(t, s.Set("k", in))
	in[0] = 'z'

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, 1, s.SetCount())
}

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite, BackendMemory} {
		s, err := Open(Config{Backend: backend, Dir: t.TempDir()}, nil)
		require.NoError(t, err, backend)
		require.NoError(t, s.Close())
	}

	_, err := Open(Config{Backend: "cassandra"}, nil)
	assert.Error(t, err)
}

func TestStoreError_Message(t *testing.T) {
	err := notFound(KeyHistory)
	assert.Contains(t, err.Error(), KeyHistory)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidKey)
}
