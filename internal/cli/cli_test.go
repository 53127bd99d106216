// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

const completionBody = "data: {\"choices\":[{\"delta\":{\"reasoning\":\"thinking about it\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Paris\"}}]}\n\n" +
	"data: [DONE]\n\n"

type testEnv struct {
	configPath string
	dataDir    string
}

// newTestEnv writes a config file pointing at a fake OpenRouter.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"OPENROUTER_API_KEY", "RIGCHAT_API_KEY", "RIGCHAT_MODEL", "RIGCHAT_BASE_URL",
		"RIGCHAT_STORAGE", "RIGCHAT_DATA_DIR", "RIGCHAT_LOG_LEVEL", "RIGCHAT_METRICS_ADDR",
		"RIGCHAT_IDLE_TIMEOUT", "RIGCHAT_COMMIT_PARTIAL",
	} {
		t.Setenv(name, "")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			_, _ = io.WriteString(w, completionBody)
		case "/models":
			_, _ = io.WriteString(w, `{"data":[
				{"id":"google/gemma:free","name":"Gemma (free)","context_length":8192},
				{"id":"openai/gpt-4o","name":"GPT-4o","context_length":128000}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.API.RequestsPerSecond = 0
	cfg.Storage.Dir = filepath.Join(dir, "data")
	cfg.Defaults.APIKey = "sk-or-shared"
	cfg.Log.Level = "error"

	env := &testEnv{configPath: filepath.Join(dir, "config.toml"), dataDir: cfg.Storage.Dir}
	require.NoError(t, config.Save(cfg, env.configPath))
	return env
}

// run executes one rigchat invocation and returns its stdout.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := &App{In: strings.NewReader(stdin), Out: &out, Err: &errOut}

	root := NewRootCommand(app)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()
	require.NoError(t, app.Close())
	return out.String(), err
}

func TestChat_StreamsReplyAndPersists(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "What is the capital of France?\n/quit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Thinking:")
	assert.Contains(t, out, "thinking about it")
	assert.Contains(t, out, "Paris")

	out, err = env.run(t, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "What is the capital of France?")
	assert.Contains(t, out, "    2  ")
}

func TestChat_SlashCommands(t *testing.T) {
	env := newTestEnv(t)

	script := strings.Join([]string{
		"first question",
		"/new",
		"/list",
		"/switch 1",
		"/model google/gemma:free",
		"/model",
		"/system Answer in French.",
		"/bogus",
		"/switch nope",
	}, "\n") + "\n"

	out, err := env.run(t, script, "chat")
	require.NoError(t, err)

	assert.Contains(t, out, "Started a new conversation")
	assert.Contains(t, out, "Switched to first question")
	assert.Contains(t, out, "Model set to google/gemma:free")
	assert.Contains(t, out, "System prompt set for this conversation")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "usage: /switch N")

	out, err = env.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "google/gemma:free")
}

func TestModels_SharedKeyShowsFreeOnly(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "google/gemma:free")
	assert.NotContains(t, out, "openai/gpt-4o")
	assert.Contains(t, out, "free models only")

	out, err = env.run(t, "", "models", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "openai/gpt-4o")
	assert.Contains(t, out, "128K")
}

func TestConfig_SetAndShow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "", "config", "set", "temperature", "0.5")
	require.NoError(t, err)

	_, err = env.run(t, "", "config", "set", "temperature", "5")
	assert.Error(t, err)

	_, err = env.run(t, "", "config", "set", "colour", "blue")
	assert.ErrorContains(t, err, "unknown setting")

	out, err := env.run(t, "", "config", "set", "api-key", "sk-or-personal-123")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-or-personal-123")

	out, err = env.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "0.5")
	assert.NotContains(t, out, "sk-or-personal-123")
	assert.NotContains(t, out, "sk-or-shared")
	assert.Contains(t, out, "[REDACTED ")
}

func TestHistory_ExportDeleteClear(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "hello there\n", "chat")
	require.NoError(t, err)

	exportDir := t.TempDir()
	out, err := env.run(t, "", "history", "export", "0", "--format", "yaml", "--output", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported to ")

	files, err := filepath.Glob(filepath.Join(exportDir, "conversation_hello_there_*.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "content: Paris")

	_, err = env.run(t, "", "history", "export", "7")
	assert.ErrorContains(t, err, "no conversation 7")

	_, err = env.run(t, "", "history", "export", "0", "--format", "pdf")
	assert.Error(t, err)

	out, err = env.run(t, "", "history", "show", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "Paris")

	_, err = env.run(t, "", "history", "clear")
	assert.ErrorContains(t, err, "--confirm")

	_, err = env.run(t, "", "history", "clear", "--confirm")
	require.NoError(t, err)

	out, err = env.run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations yet.")
}

func TestHistory_Delete(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "one\n/new\n", "chat")
	require.NoError(t, err)

	_, err = env.run(t, "", "history", "delete", "5")
	assert.Error(t, err)

	_, err = env.run(t, "", "history", "delete", "0")
	require.NoError(t, err)

	out, err := env.run(t, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "one")
}

func TestRoot_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("[storage]\nbackend = \"floppy\"\n"), 0600))

	_, err := env.run(t, "", "history")
	assert.ErrorContains(t, err, "invalid config")
}

func TestUsage_JSONReport(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "count me\n", "chat")
	require.NoError(t, err)

	out, err := env.run(t, "", "usage", "--json", "--days", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `"replies": 1`)
	assert.Contains(t, out, `"metered": 0`)

	out, err = env.run(t, "", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage (last 30 days)")
}
