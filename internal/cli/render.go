// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders markdown for the terminal. It returns the input
// unchanged when stdout is not a terminal or the renderer is unavailable.
func renderMarkdown(content string) string {
	if !ColorsEnabled() {
		return content
	}
	markdownRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()-4),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// printTurn writes one stored turn with its role heading.
func printTurn(w io.Writer, turn model.Turn) {
	fmt.Fprintln(w, TitleStyle.Render(turn.Role.DisplayName()))
	if turn.Reasoning != "" {
		fmt.Fprintln(w, DimStyle.Render(strings.TrimSpace(turn.Reasoning)))
		fmt.Fprintln(w)
	}
	if turn.Role == model.RoleAssistant {
		fmt.Fprintln(w, strings.TrimRight(renderMarkdown(turn.Content), "\n"))
	} else {
		fmt.Fprintln(w, turn.Content)
	}
	fmt.Fprintln(w)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes accumulator updates as they arrive. Reasoning is
// printed dimmed and separated from the answer by a blank line.
type streamPrinter struct {
	w io.Writer

	mu          sync.Mutex
	inReasoning bool
	wrote       bool
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// Observe is an engine.Observer.
func (p *streamPrinter) Observe(u engine.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case engine.UpdateReasoning:
		if !p.inReasoning {
			fmt.Fprint(p.w, DimStyle.Render("Thinking:")+" ")
			p.inReasoning = true
		}
		fmt.Fprint(p.w, DimStyle.Render(u.Text))
		p.wrote = true
	case engine.UpdateContent:
		if p.inReasoning {
			fmt.Fprint(p.w, "\n\n")
			p.inReasoning = false
		}
		fmt.Fprint(p.w, u.Text)
		p.wrote = true
	}
}

// finish prints the outcome of a send below the streamed text.
func (p *streamPrinter) finish(out engine.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wrote {
		fmt.Fprintln(p.w)
	}
	switch out.State {
	case engine.StateCompleted:
		if !p.wrote {
			fmt.Fprintln(p.w, DimStyle.Render("(empty reply)"))
		}
	case engine.StateAborted:
		msg := "[cancelled]"
		if out.Turn != nil {
			msg = "[cancelled, partial reply saved]"
		}
		fmt.Fprintln(p.w, WarningStyle.Render(msg))
	case engine.StateFailed:
		if out.Turn != nil {
			fmt.Fprintln(p.w, ErrorStyle.Render(out.Turn.Content))
		} else {
			fmt.Fprintln(p.w, ErrorStyle.Render(engine.FailurePrefix+cloud.ErrorMessage(out.Err)))
		}
	case engine.StateIdle:
		if errors.Is(out.Err, cloud.ErrNotConfigured) && out.Turn != nil {
			fmt.Fprintln(p.w, WarningStyle.Render(out.Turn.Content))
		}
	}
	p.inReasoning = false
	p.wrote = false
}
