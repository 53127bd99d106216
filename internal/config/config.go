// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultModel is selected when no model has been chosen yet.
	DefaultModel = "deepseek/deepseek-r1:free"

	// DefaultSystemPrompt is the global system prompt on first run.
	DefaultSystemPrompt = "You are a helpful, respectful and honest AI assistant."

	// DefaultTemperature is the sampling temperature on first run.
	DefaultTemperature = 1.0

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultSiteURL is sent as the referer header.
	DefaultSiteURL = "https://rigchat.local"

	// DefaultSiteName is sent as the application title header.
	DefaultSiteName = "rigchat"

	// MaxTemperature is the upper bound accepted by the provider.
	MaxTemperature = 2.0
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version  string         `toml:"version" json:"version"`
	API      APIConfig      `toml:"api" json:"api"`
	Stream   StreamConfig   `toml:"stream" json:"stream"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Defaults DefaultsConfig `toml:"defaults" json:"defaults"`
	Log      LogConfig      `toml:"log" json:"log"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics"`
}

// APIConfig configures the OpenRouter client.
type APIConfig struct {
	BaseURL           string        `toml:"base_url" json:"base_url"`
	SiteURL           string        `toml:"site_url" json:"site_url"`
	SiteName          string        `toml:"site_name" json:"site_name"`
	RequestsPerSecond float64       `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `toml:"burst" json:"burst"`
	CatalogTimeout    time.Duration `toml:"catalog_timeout" json:"catalog_timeout"`
	MaxRetries        int           `toml:"max_retries" json:"max_retries"`
}

// StreamConfig configures the stream engine.
type StreamConfig struct {
	// RequestTimeout bounds a whole completion request.
	RequestTimeout time.Duration `toml:"request_timeout" json:"request_timeout"`

	// IdleTimeout fails a stream that delivers no bytes for this long.
	IdleTimeout time.Duration `toml:"idle_timeout" json:"idle_timeout"`

	// CommitPartialOnAbort keeps accumulated content as a turn when the user
	// cancels a stream.
	CommitPartialOnAbort bool `toml:"commit_partial_on_abort" json:"commit_partial_on_abort"`

	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"`
	Dir     string `toml:"dir" json:"dir"`
}

// DefaultsConfig holds first-run session values.
type DefaultsConfig struct {
	// APIKey is the shared fallback credential. Leaving it empty disables
	// the fallback mode entirely.
	APIKey       string  `toml:"api_key" json:"api_key"`
	Model        string  `toml:"model" json:"model"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level    string `toml:"level" json:"level"`
	Format   string `toml:"format" json:"format"`
	Dir      string `toml:"dir" json:"dir"`
	MaxFiles int    `toml:"max_files" json:"max_files"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr" json:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := ""
	if dir, err := ConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "data")
	}
	return &Config{
		Version: "1",
		API: APIConfig{
			BaseURL:           DefaultBaseURL,
			SiteURL:           DefaultSiteURL,
			SiteName:          DefaultSiteName,
			RequestsPerSecond: 2,
			Burst:             4,
			CatalogTimeout:    30 * time.Second,
			MaxRetries:        3,
		},
		Stream: StreamConfig{
			RequestTimeout: 10 * time.Minute,
			IdleTimeout:    90 * time.Second,
			MaxTokens:      4000,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     dataDir,
		},
		Defaults: DefaultsConfig{
			Model:        DefaultModel,
			Temperature:  DefaultTemperature,
			SystemPrompt: DefaultSystemPrompt,
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "text",
			MaxFiles: 10,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens permissions on the config file.
// SECURITY: Config files should be 0600 to protect the shared API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file at path (the default path when empty), applies
// environment overrides and defaults, and validates the result. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// fillDefaults fills in zero values that have no meaning as zero.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	cfg.API.BaseURL = strings.TrimSuffix(cfg.API.BaseURL, "/")
	if cfg.API.SiteURL == "" {
		cfg.API.SiteURL = defaults.API.SiteURL
	}
	if cfg.API.SiteName == "" {
		cfg.API.SiteName = defaults.API.SiteName
	}
	if cfg.API.CatalogTimeout == 0 {
		cfg.API.CatalogTimeout = defaults.API.CatalogTimeout
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = defaults.API.MaxRetries
	}
	if cfg.Stream.RequestTimeout == 0 {
		cfg.Stream.RequestTimeout = defaults.Stream.RequestTimeout
	}
	if cfg.Stream.IdleTimeout == 0 {
		cfg.Stream.IdleTimeout = defaults.Stream.IdleTimeout
	}
	if cfg.Stream.MaxTokens == 0 {
		cfg.Stream.MaxTokens = defaults.Stream.MaxTokens
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = defaults.Storage.Dir
	}
	if cfg.Defaults.Model == "" {
		cfg.Defaults.Model = defaults.Defaults.Model
	}
	if cfg.Defaults.SystemPrompt == "" {
		cfg.Defaults.SystemPrompt = defaults.Defaults.SystemPrompt
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Log.MaxFiles == 0 {
		cfg.Log.MaxFiles = defaults.Log.MaxFiles
	}
}

// Save writes cfg to path (the default path when empty).
// SECURITY: Config files are written with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents a torn config on crash.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# rigchat configuration file\n")
	buf.WriteString("# Generated by rigchat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks every section.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.API),
		validation.Field(&c.Stream),
		validation.Field(&c.Storage),
		validation.Field(&c.Defaults),
		validation.Field(&c.Log),
	)
}

// Validate implements validation.Validatable.
func (a APIConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&a.SiteURL, validation.By(httpURL)),
		validation.Field(&a.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&a.Burst, validation.Min(0)),
		validation.Field(&a.CatalogTimeout, validation.Min(time.Second)),
		validation.Field(&a.MaxRetries, validation.Min(1), validation.Max(10)),
	)
}

// Validate implements validation.Validatable.
func (s StreamConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.RequestTimeout, validation.Min(time.Second)),
		validation.Field(&s.IdleTimeout, validation.Min(time.Second)),
		validation.Field(&s.MaxTokens, validation.Min(1)),
	)
}

// Validate implements validation.Validatable.
func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required,
			validation.In(BackendFile, BackendSQLite, BackendBadger, BackendMemory)),
		validation.Field(&s.Dir, validation.When(s.Backend != BackendMemory, validation.Required)),
	)
}

// Validate implements validation.Validatable.
func (d DefaultsConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Model, validation.Required),
		validation.Field(&d.Temperature, validation.Min(0.0), validation.Max(MaxTemperature)),
	)
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
		validation.Field(&l.MaxFiles, validation.Min(1)),
	)
}

// httpURL accepts empty strings and absolute http(s) URLs.
func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - OPENROUTER_API_KEY / RIGCHAT_API_KEY: defaults.api_key
//   - RIGCHAT_MODEL: defaults.model
//   - RIGCHAT_BASE_URL: api.base_url
//   - RIGCHAT_STORAGE: storage.backend
//   - RIGCHAT_DATA_DIR: storage.dir
//   - RIGCHAT_LOG_LEVEL: log.level
//   - RIGCHAT_METRICS_ADDR: metrics.addr
//   - RIGCHAT_IDLE_TIMEOUT: stream.idle_timeout (Go duration)
//   - RIGCHAT_COMMIT_PARTIAL: stream.commit_partial_on_abort
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Defaults.APIKey = key
	}
	if key := os.Getenv("RIGCHAT_API_KEY"); key != "" {
		c.Defaults.APIKey = key
	}
	if model := os.Getenv("RIGCHAT_MODEL"); model != "" {
		c.Defaults.Model = model
	}
	if base := os.Getenv("RIGCHAT_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if backend := os.Getenv("RIGCHAT_STORAGE"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if dir := os.Getenv("RIGCHAT_DATA_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if level := os.Getenv("RIGCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if addr := os.Getenv("RIGCHAT_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
	if idle := os.Getenv("RIGCHAT_IDLE_TIMEOUT"); idle != "" {
		if d, err := time.ParseDuration(idle); err == nil {
			c.Stream.IdleTimeout = d
		}
	}
	if partial := os.Getenv("RIGCHAT_COMMIT_PARTIAL"); partial != "" {
		if b, err := strconv.ParseBool(partial); err == nil {
			c.Stream.CommitPartialOnAbort = b
		}
	}
}

// Redacted returns a copy safe to print.
// SECURITY: The shared credential is replaced with its fingerprint.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.Defaults.APIKey != "" {
		clone.Defaults.APIKey = "[REDACTED " + util.Fingerprint(clone.Defaults.APIKey) + "]"
	}
	return &clone
}
