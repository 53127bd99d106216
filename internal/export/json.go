// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations to JSON format.
// The output has the same shape as the persisted history record, so it can be
// re-imported.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a conversation to JSON format.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	return json.MarshalIndent(conv, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

// =============================================================================
// YAML EXPORTER
// =============================================================================

// YAMLExporter exports conversations to YAML format.
type YAMLExporter struct {
	options *Options
}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter(opts *Options) *YAMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &YAMLExporter{options: opts}
}

type yamlTurn struct {
	Role      string `yaml:"role"`
	Content   string `yaml:"content"`
	Reasoning string `yaml:"reasoning,omitempty"`
	Usage     any    `yaml:"usage,omitempty"`
}

type yamlConversation struct {
	ID           string     `yaml:"id"`
	Title        string     `yaml:"title"`
	CreatedAt    string     `yaml:"created_at"`
	UpdatedAt    string     `yaml:"updated_at"`
	SystemPrompt string     `yaml:"system_prompt,omitempty"`
	Messages     []yamlTurn `yaml:"messages"`
}

// Export converts a conversation to YAML format.
func (e *YAMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	doc := yamlConversation{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    conv.UpdatedAt.Format(time.RFC3339Nano),
		SystemPrompt: conv.SystemPrompt,
		Messages:     make([]yamlTurn, 0, len(conv.Turns)),
	}
	for i, turn := range conv.Turns {
		yt := yamlTurn{
			Role:    turn.Role.String(),
			Content: turn.Content,
		}
		if e.options.IncludeReasoning {
			yt.Reasoning = turn.Reasoning
		}
		if len(turn.Usage) > 0 {
			var usage any
			if err := json.Unmarshal(turn.Usage, &usage); err != nil {
				return nil, fmt.Errorf("decode usage of message %d: %w", i, err)
			}
			yt.Usage = usage
		}
		doc.Messages = append(doc.Messages, yt)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for YAML.
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}
