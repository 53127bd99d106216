// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title        string `yaml:"title"`
	ID           string `yaml:"id"`
	Date         string `yaml:"date"`
	Updated      string `yaml:"updated"`
	Messages     int    `yaml:"messages"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	Exported     string `yaml:"exported"`
	Generator    string `yaml:"generator"`
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	if len(conv.Turns) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}
	if conv.CreatedAt.IsZero() {
		return nil, fmt.Errorf("conversation has invalid creation timestamp")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		header, err := yaml.Marshal(frontMatter{
			Title:        conv.Title,
			ID:           conv.ID,
			Date:         conv.CreatedAt.Format(time.RFC3339),
			Updated:      conv.UpdatedAt.Format(time.RFC3339),
			Messages:     len(conv.Turns),
			SystemPrompt: conv.SystemPrompt,
			Exported:     e.options.now().Format(time.RFC3339),
			Generator:    "rigchat",
		})
		if err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(header)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(conv.Turns))
		if conv.SystemPrompt != "" {
			fmt.Fprintf(&sb, "- **System Prompt**: %s\n", escapeMarkdown(conv.SystemPrompt))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, turn := range conv.Turns {
		fmt.Fprintf(&sb, "### %s\n\n", formatRoleLabel(turn.Role))

		if turn.Role == model.RoleAssistant && e.options.IncludeReasoning && turn.Reasoning != "" {
			sb.WriteString(formatReasoning(turn.Reasoning))
			sb.WriteString("\n\n")
		}

		sb.WriteString(strings.TrimSpace(turn.Content))
		sb.WriteString("\n\n")

		if i < len(conv.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from rigchat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatRoleLabel returns a formatted label for the turn role.
func formatRoleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return "[" + role.DisplayName() + "]"
}

// formatReasoning renders reasoning as a collapsed block.
func formatReasoning(reasoning string) string {
	var sb strings.Builder
	sb.WriteString("<details>\n<summary>Reasoning</summary>\n\n")
	for _, line := range strings.Split(strings.TrimSpace(reasoning), "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n</details>")
	return sb.String()
}

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}
