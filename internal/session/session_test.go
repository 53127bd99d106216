// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.API.RequestsPerSecond = 0
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.Dir = t.TempDir()
	cfg.Defaults.APIKey = "sk-or-shared"
	return cfg
}

func completionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Paris\"}}]}\n\ndata: [DONE]\n\n")
		case "/models":
			_, _ = io.WriteString(w, `{"data":[{"id":"z/model:free","name":"Zed (free)"},{"id":"a/paid","name":"Paid"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmit_EndToEnd(t *testing.T) {
	srv := completionServer(t)
	cfg := testConfig(t, srv.URL)

	sess, err := New(cfg, nil)
	require.NoError(t, err)

	out, err := sess.Submit(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, out.State)
	require.NoError(t, sess.Close())

	// A fresh session over the same directory sees the persisted exchange.
	reopened, err := New(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	conv, ok := reopened.Conversations.Active()
	require.True(t, ok)
	require.Equal(t, 2, conv.TurnCount())
	assert.Equal(t, "What is the capital of France?", conv.Title)
	last, _ := conv.LastTurn()
	assert.Equal(t, "Paris", last.Content)
}

func TestSubmit_SendsDefaultAttribution(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	sess := NewWithStore(testConfig(t, srv.URL), storage.NewMemoryStore(), nil)
	_, err := sess.Submit(context.Background(), "hi")
	require.NoError(t, err)

	got := <-headers
	assert.Equal(t, config.DefaultSiteURL, got.Get("HTTP-Referer"))
	assert.Equal(t, config.DefaultSiteName, got.Get("X-Title"))
}

func TestSubmit_ConcurrentSubmitIsNotStored(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first reply\"}}]}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	sess := NewWithStore(testConfig(t, srv.URL), storage.NewMemoryStore(), nil)

	done := make(chan engine.Outcome, 1)
	go func() {
		out, _ := sess.Submit(context.Background(), "first")
		done <- out
	}()
	<-entered

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sess.Submit(context.Background(), "rejected")
			assert.ErrorIs(t, err, engine.ErrBusy)
		}()
	}
	wg.Wait()
	close(release)
	assert.Equal(t, engine.StateCompleted, (<-done).State)

	conv, ok := sess.Conversations.Active()
	require.True(t, ok)
	require.Equal(t, 2, conv.TurnCount())
	assert.Equal(t, "first", conv.Turns[0].Content)
	assert.Equal(t, "first reply", conv.Turns[1].Content)
}

func TestSubmit_RejectsEmpty(t *testing.T) {
	sess := NewWithStore(testConfig(t, "http://127.0.0.1:1"), storage.NewMemoryStore(), nil)
	_, err := sess.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, sess.Conversations.Len())
}

func TestSubmit_SharedKeyCatalogFilter(t *testing.T) {
	srv := completionServer(t)
	sess := NewWithStore(testConfig(t, srv.URL), storage.NewMemoryStore(), nil)

	sess.Settings.FetchAvailableModels(context.Background())
	filtered := sess.Settings.FilteredModels()
	require.Len(t, filtered, 1)
	assert.Equal(t, "z/model:free", filtered[0].ID)
	assert.Equal(t, "z/model:free", sess.Settings.SelectedModel())
}

func TestGetStatus(t *testing.T) {
	sess := NewWithStore(testConfig(t, "http://127.0.0.1:1"), storage.NewMemoryStore(), nil)

	st := sess.GetStatus()
	assert.Equal(t, config.DefaultModel, st.Model)
	assert.True(t, st.UsingDefaultKey)
	assert.True(t, st.KeyConfigured)
	assert.Equal(t, 0, st.Conversations)
	assert.Equal(t, engine.StateIdle, st.EngineState)
}

func TestWatchSettings_NonFileBackendReturns(t *testing.T) {
	sess := NewWithStore(testConfig(t, "http://127.0.0.1:1"), storage.NewMemoryStore(), nil)
	assert.NoError(t, sess.WatchSettings(context.Background(), nil))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatDuration(tc.d))
	}
}
