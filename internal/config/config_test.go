// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv isolates a test from the developer's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"OPENROUTER_API_KEY", "RIGCHAT_API_KEY", "RIGCHAT_MODEL", "RIGCHAT_BASE_URL",
		"RIGCHAT_STORAGE", "RIGCHAT_DATA_DIR", "RIGCHAT_LOG_LEVEL", "RIGCHAT_METRICS_ADDR",
		"RIGCHAT_IDLE_TIMEOUT", "RIGCHAT_COMMIT_PARTIAL",
	} {
		t.Setenv(name, "")
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	assert.Equal(t, DefaultModel, cfg.Defaults.Model)
	assert.Equal(t, DefaultSystemPrompt, cfg.Defaults.SystemPrompt)
	assert.Equal(t, 1.0, cfg.Defaults.Temperature)
	assert.Empty(t, cfg.Defaults.APIKey)
	assert.Equal(t, DefaultSiteURL, cfg.API.SiteURL)
	assert.Equal(t, DefaultSiteName, cfg.API.SiteName)
	assert.Equal(t, 10*time.Minute, cfg.Stream.RequestTimeout)
	assert.Equal(t, 90*time.Second, cfg.Stream.IdleTimeout)
	assert.False(t, cfg.Stream.CommitPartialOnAbort)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.True(t, strings.HasSuffix(cfg.Storage.Dir, filepath.Join(".rigchat", "data")))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Defaults.Model)
}

func TestLoad_TOMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[api]
base_url = "https://proxy.example/api/v1/"
site_name = "test-site"

[stream]
idle_timeout = "5s"
commit_partial_on_abort = true

[storage]
backend = "memory"

[defaults]
model = "meta/llama:free"
temperature = 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://proxy.example/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "test-site", cfg.API.SiteName)
	assert.Equal(t, DefaultSiteURL, cfg.API.SiteURL)
	assert.Equal(t, 5*time.Second, cfg.Stream.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Stream.RequestTimeout)
	assert.True(t, cfg.Stream.CommitPartialOnAbort)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "meta/llama:free", cfg.Defaults.Model)
	assert.Equal(t, 0.3, cfg.Defaults.Temperature)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nbase_ulr = \"x\"\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_ulr")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"temperature too high", "[defaults]\ntemperature = 3.5\n", "temperature"},
		{"unknown backend", "[storage]\nbackend = \"redis\"\n", "backend"},
		{"relative base url", "[api]\nbase_url = \"openrouter.ai\"\n", "base_url"},
		{"bad log level", "[log]\nlevel = \"loud\"\n", "level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-from-openrouter")
	t.Setenv("RIGCHAT_MODEL", "x/y:free")
	t.Setenv("RIGCHAT_STORAGE", "SQLite")
	t.Setenv("RIGCHAT_IDLE_TIMEOUT", "12s")
	t.Setenv("RIGCHAT_COMMIT_PARTIAL", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-or-from-openrouter", cfg.Defaults.APIKey)
	assert.Equal(t, "x/y:free", cfg.Defaults.Model)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 12*time.Second, cfg.Stream.IdleTimeout)
	assert.True(t, cfg.Stream.CommitPartialOnAbort)

	// The rigchat-specific variable wins.
	t.Setenv("RIGCHAT_API_KEY", "sk-or-from-rigchat")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "sk-or-from-rigchat", cfg.Defaults.APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Defaults.APIKey = "sk-or-secret"
	cfg.Stream.IdleTimeout = 45 * time.Second
	cfg.Metrics.Addr = "127.0.0.1:9464"
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# rigchat configuration file"))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Defaults.APIKey = "sk-or-secret"

	red := cfg.Redacted()
	assert.NotContains(t, red.Defaults.APIKey, "secret")
	assert.Contains(t, red.Defaults.APIKey, "REDACTED")
	assert.Equal(t, "sk-or-secret", cfg.Defaults.APIKey)
}

// =============================================================================
// LOGGING TESTS
// =============================================================================

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "ERROR", ParseLevel("error").String())
	assert.Equal(t, "INFO", ParseLevel("nonsense").String())
}

func TestNewLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestSetupLogFile_Rotation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%s2020-01-0%dT00-00-00.000.log", logFilePrefix, i+1))
		require.NoError(t, os.WriteFile(name, nil, 0600))
	}

	f, err := SetupLogFile(dir, 3)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	files, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.NotContains(t, files, filepath.Join(dir, logFilePrefix+"2020-01-01T00-00-00.000.log"))
	assert.Contains(t, files, f.Name())
}
