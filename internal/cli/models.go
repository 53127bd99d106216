// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newModelsCommand(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available for the current API key",
		Long: `Fetch the OpenRouter model catalog and list the models you can use.

With the shared key only free models are listed. The selected model is
marked with *.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.Session().Settings
			settings.FetchAvailableModels(cmd.Context())
			if msg := settings.ModelError(); msg != "" {
				return errors.New(msg)
			}

			models := settings.FilteredModels()
			if all {
				models = model.FilterModels(settings.AvailableModels(), false)
			}
			writeModelTable(app.Out, models, settings.SelectedModel())
			if settings.UsingDefaultKey() && !all {
				fmt.Fprintln(app.Out, DimStyle.Render("Shared key in use: showing free models only."))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List the whole catalog, not only the usable models")
	return cmd
}

// writeModelTable prints one row per model with aligned columns.
func writeModelTable(w io.Writer, models []model.ModelInfo, selected string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models available."))
		return
	}

	idWidth := len("ID")
	for _, m := range models {
		idWidth = max(idWidth, runewidth.StringWidth(m.ID))
	}
	idWidth = min(idWidth, 60)

	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("  %s  %-8s  %s",
		runewidth.FillRight("ID", idWidth), "CONTEXT", "NAME")))
	for _, m := range models {
		marker := " "
		if m.ID == selected {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %-8s  %s",
			marker,
			runewidth.FillRight(runewidth.Truncate(m.ID, idWidth, "…"), idWidth),
			m.ContextString(),
			m.DisplayName())
		if m.ID == selected {
			line = ActiveStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
