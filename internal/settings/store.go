// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds the session configuration: credential, selected
// model, temperature and global system prompt, plus the model catalog
// fetched from OpenRouter.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MsgNoAPIKey is the catalog error shown when no credential is set.
	MsgNoAPIKey = "API key is not set"

	// MsgCatalogFailed is the catalog error when the server gave no message.
	MsgCatalogFailed = "Failed to fetch model list"

	// MaxTemperature is the highest accepted sampling temperature.
	MaxTemperature = 2.0
)

// ErrInvalidTemperature is returned by SetTemperature for out-of-range values.
var ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")

// =============================================================================
// TYPES
// =============================================================================

// CatalogClient lists the models available to a credential.
type CatalogClient interface {
	ListModels(ctx context.Context, apiKey string) ([]model.ModelInfo, error)
}

// Defaults are the first-run values. An empty APIKey disables the shared
// fallback credential.
type Defaults struct {
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
}

// Snapshot is a copy of the session configuration. It is also the persisted
// record shape.
type Snapshot struct {
	APIKey          string  `json:"apiKey"`
	SelectedModel   string  `json:"selectedModel"`
	Temperature     float64 `json:"temperature"`
	SystemPrompt    string  `json:"systemPrompt"`
	UsingDefaultKey bool    `json:"usingDefaultKey"`
}

// storedRecord distinguishes absent fields from zero values on load.
type storedRecord struct {
	APIKey        *string  `json:"apiKey"`
	SelectedModel *string  `json:"selectedModel"`
	Temperature   *float64 `json:"temperature"`
	SystemPrompt  *string  `json:"systemPrompt"`
}

// Store is the settings store. All methods are safe for concurrent use.
type Store struct {
	records  storage.Store
	catalog  CatalogClient
	defaults Defaults
	logger   *slog.Logger
	fetches  singleflight.Group

	mu            sync.RWMutex
	apiKey        string
	selectedModel string
	temperature   float64
	systemPrompt  string
	models        []model.ModelInfo
	loading       bool
	modelErr      string
}

// New creates a store holding the defaults. Call Load to read the persisted
// record.
func New(records storage.Store, catalog CatalogClient, defaults Defaults, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		records:  records,
		catalog:  catalog,
		defaults: defaults,
		logger:   logger.With("component", "settings"),
	}
	s.applyDefaultsLocked()
	return s
}

func (s *Store) applyDefaultsLocked() {
	s.apiKey = s.defaults.APIKey
	s.selectedModel = s.defaults.Model
	s.temperature = s.defaults.Temperature
	s.systemPrompt = s.defaults.SystemPrompt
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the settings record. An absent or undecodable record leaves the
// defaults in place; individual absent fields fall back to their default.
// Load never fails.
func (s *Store) Load() {
	data, err := s.records.Get(storage.KeySettings)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyDefaultsLocked()

	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("settings record unreadable, using defaults", "error", err)
		}
		return
	}

	var rec storedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("settings record corrupt, using defaults", "error", err)
		return
	}

	if rec.APIKey != nil && *rec.APIKey != "" {
		s.apiKey = *rec.APIKey
	}
	if rec.SelectedModel != nil && *rec.SelectedModel != "" {
		s.selectedModel = *rec.SelectedModel
	}
	if rec.Temperature != nil && validTemperature(*rec.Temperature) {
		s.temperature = *rec.Temperature
	}
	if rec.SystemPrompt != nil && *rec.SystemPrompt != "" {
		s.systemPrompt = *rec.SystemPrompt
	}

	s.logger.Debug("settings loaded",
		"model", s.selectedModel,
		"key_fingerprint", util.Fingerprint(s.apiKey),
		"using_default_key", s.usingDefaultKeyLocked())
}

// Save persists the five-field record.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.enforceFallbackLocked()

	data, err := json.Marshal(s.snapshotLocked())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.records.Set(storage.KeySettings, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// enforceFallbackLocked keeps the shared credential on free-tier models.
// Without a catalog only the id can be checked, and there is nothing to
// fall back to.
func (s *Store) enforceFallbackLocked() {
	if !s.usingDefaultKeyLocked() {
		return
	}
	if len(s.models) == 0 {
		if !model.IsFreeTierID(s.selectedModel) {
			s.logger.Debug("shared credential model unchecked without catalog",
				"model", s.selectedModel)
		}
		return
	}
	filtered := s.filteredLocked()
	if len(filtered) == 0 || model.ContainsModel(filtered, s.selectedModel) {
		return
	}
	s.logger.Info("shared credential restricted to free models",
		"from", s.selectedModel, "to", filtered[0].ID)
	s.selectedModel = filtered[0].ID
}

// ClearHistory removes the persisted conversation history record.
func (s *Store) ClearHistory() error {
	if err := s.records.Remove(storage.KeyHistory); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.logger.Info("conversation history cleared")
	return nil
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// FetchAvailableModels refreshes the model catalog. Failures never escape:
// they are recorded for ModelError and the previous list is kept. Concurrent
// calls share one request.
func (s *Store) FetchAvailableModels(ctx context.Context) {
	_, _, _ = s.fetches.Do("catalog", func() (interface{}, error) {
		s.fetchModels(ctx)
		return nil, nil
	})
}

func (s *Store) fetchModels(ctx context.Context) {
	s.mu.Lock()
	key := s.apiKey
	if strings.TrimSpace(key) == "" {
		s.modelErr = MsgNoAPIKey
		s.mu.Unlock()
		return
	}
	s.loading = true
	s.modelErr = ""
	s.mu.Unlock()

	models, err := s.catalog.ListModels(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		s.modelErr = catalogErrorMessage(err)
		s.logger.Warn("model catalog fetch failed", "error", err)
		return
	}

	s.models = models
	s.logger.Debug("model catalog fetched", "count", len(models))

	filtered := s.filteredLocked()
	if len(filtered) > 0 && !model.ContainsModel(filtered, s.selectedModel) {
		s.logger.Info("selected model unavailable, switching",
			"from", s.selectedModel, "to", filtered[0].ID)
		s.selectedModel = filtered[0].ID
		if err := s.saveLocked(); err != nil {
			s.logger.Error("failed to save settings", "error", err)
		}
	}
}

func catalogErrorMessage(err error) string {
	var orErr *cloud.OpenRouterError
	if errors.As(err, &orErr) && orErr.Message != "" {
		return orErr.Message
	}
	if errors.Is(err, cloud.ErrNotConfigured) {
		return MsgNoAPIKey
	}
	return MsgCatalogFailed
}

// FilteredModels returns the catalog visible to the active credential,
// sorted by display name. The shared credential only sees free models.
func (s *Store) FilteredModels() []model.ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filteredLocked()
}

func (s *Store) filteredLocked() []model.ModelInfo {
	return model.FilterModels(s.models, s.usingDefaultKeyLocked())
}

// AvailableModels returns a copy of the unfiltered catalog.
func (s *Store) AvailableModels() []model.ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ModelInfo, len(s.models))
	copy(out, s.models)
	return out
}

// ModelError returns the last catalog error, or "".
func (s *Store) ModelError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelErr
}

// IsLoadingModels reports whether a catalog fetch is in flight.
func (s *Store) IsLoadingModels() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// =============================================================================
// SETTERS
// =============================================================================

// SetAPIKey sets the credential and saves.
func (s *Store) SetAPIKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
	s.logger.Info("api key updated", "key_fingerprint", util.Fingerprint(s.apiKey))
	return s.saveLocked()
}

// SetModel selects a model and saves.
func (s *Store) SetModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = strings.TrimSpace(id)
	return s.saveLocked()
}

// SetTemperature sets the sampling temperature and saves.
func (s *Store) SetTemperature(t float64) error {
	if !validTemperature(t) {
		return ErrInvalidTemperature
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = t
	return s.saveLocked()
}

// SetSystemPrompt sets the global system prompt and saves.
func (s *Store) SetSystemPrompt(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
	return s.saveLocked()
}

func validTemperature(t float64) bool {
	return t >= 0 && t <= MaxTemperature
}

// =============================================================================
// READERS
// =============================================================================

// APIKey returns the active credential.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// SelectedModel returns the selected model id.
func (s *Store) SelectedModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedModel
}

// Temperature returns the sampling temperature.
func (s *Store) Temperature() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.temperature
}

// SystemPrompt returns the global system prompt.
func (s *Store) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// UsingDefaultKey reports whether the shared fallback credential is active.
func (s *Store) UsingDefaultKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usingDefaultKeyLocked()
}

func (s *Store) usingDefaultKeyLocked() bool {
	return s.defaults.APIKey != "" && s.apiKey == s.defaults.APIKey
}

// Snapshot returns a consistent copy of the session configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		APIKey:          s.apiKey,
		SelectedModel:   s.selectedModel,
		Temperature:     s.temperature,
		SystemPrompt:    s.systemPrompt,
		UsingDefaultKey: s.usingDefaultKeyLocked(),
	}
}
