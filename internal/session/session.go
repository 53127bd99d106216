// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/settings"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// ErrEmptyMessage is returned by Submit for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// SESSION
// =============================================================================

// Session owns the services of one rigchat process.
type Session struct {
	Config        *config.Config
	Records       storage.Store
	Client        *cloud.OpenRouterClient
	Settings      *settings.Store
	Conversations *conversation.Store
	Engine        *engine.Engine

	logger    *slog.Logger
	startTime time.Time
}

// New opens the configured store and builds every service.
func New(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	records, err := storage.Open(storage.Config{
		Backend: cfg.Storage.Backend,
		Dir:     cfg.Storage.Dir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	return NewWithStore(cfg, records, logger), nil
}

// NewWithStore builds every service on an already open store, loads the
// settings and restores the conversation history.
func NewWithStore(cfg *config.Config, records storage.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	client := cloud.NewOpenRouterClient().
		WithBaseURL(cfg.API.BaseURL).
		WithSiteURL(cfg.API.SiteURL).
		WithSiteName(cfg.API.SiteName).
		WithTimeout(cfg.API.CatalogTimeout).
		WithMaxRetries(cfg.API.MaxRetries).
		WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst).
		WithLogger(logger.With("component", "openrouter"))

	settingsStore := settings.New(records, client, settings.Defaults{
		APIKey:       cfg.Defaults.APIKey,
		Model:        cfg.Defaults.Model,
		Temperature:  cfg.Defaults.Temperature,
		SystemPrompt: cfg.Defaults.SystemPrompt,
	}, logger)
	settingsStore.Load()

	convs := conversation.New(records, settingsStore, logger)
	convs.Restore()

	eng := engine.New(settingsStore, convs, client, engine.Options{
		RequestTimeout:       cfg.Stream.RequestTimeout,
		IdleTimeout:          cfg.Stream.IdleTimeout,
		CommitPartialOnAbort: cfg.Stream.CommitPartialOnAbort,
		MaxTokens:            cfg.Stream.MaxTokens,
	}, logger)

	return &Session{
		Config:        cfg,
		Records:       records,
		Client:        client,
		Settings:      settingsStore,
		Conversations: convs,
		Engine:        eng,
		logger:        logger.With("component", "session"),
		startTime:     time.Now(),
	}
}

// Submit appends a user turn to the active conversation and streams the
// reply. A message submitted while a reply is streaming is rejected with
// engine.ErrBusy and not stored.
func (s *Session) Submit(ctx context.Context, text string) (engine.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return engine.Outcome{}, ErrEmptyMessage
	}
	return s.Engine.SendTurn(ctx, model.UserTurn(text))
}

// WatchSettings reloads settings changed on disk by another process until
// ctx is done. It returns immediately for backends without a settings file.
func (s *Session) WatchSettings(ctx context.Context, onReload func(settings.Snapshot)) error {
	files, ok := s.Records.(*storage.FileStore)
	if !ok {
		return nil
	}
	return s.Settings.Watch(ctx, files.Path(storage.KeySettings), onReload)
}

// Close releases the store.
func (s *Session) Close() error {
	s.Engine.Cancel()
	return s.Records.Close()
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current session status.
type Status struct {
	Model           string
	UsingDefaultKey bool
	KeyConfigured   bool
	Conversations   int
	ActiveIndex     int
	EngineState     engine.State
	Backend         string
	Uptime          time.Duration
}

// GetStatus returns the current session status.
func (s *Session) GetStatus() Status {
	snap := s.Settings.Snapshot()
	return Status{
		Model:           snap.SelectedModel,
		UsingDefaultKey: snap.UsingDefaultKey,
		KeyConfigured:   strings.TrimSpace(snap.APIKey) != "",
		Conversations:   s.Conversations.Len(),
		ActiveIndex:     s.Conversations.ActiveIndex(),
		EngineState:     s.Engine.State(),
		Backend:         s.Config.Storage.Backend,
		Uptime:          time.Since(s.startTime),
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
	if d < time.Minute {
		return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
