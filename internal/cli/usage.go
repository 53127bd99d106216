// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

func newUsageCommand(app *App) *cobra.Command {
	var days int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage reported for saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convs := app.Session().Conversations.Conversations()
			report := telemetry.Summarize(convs, time.Now(), days)

			if asJSON {
				enc := json.NewEncoder(app.Out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := app.Out
			period := "all time"
			if days > 0 {
				period = "last " + strconv.Itoa(days) + " days"
			}
			fmt.Fprintln(w, TitleStyle.Render("Usage ("+period+")"))
			fmt.Fprintln(w, RenderField("Replies", fmt.Sprintf("%d (%d with usage)", report.Replies, report.Metered)))
			fmt.Fprintln(w, RenderField("Prompt tokens", strconv.Itoa(report.Total.Prompt)))
			fmt.Fprintln(w, RenderField("Completion tokens", strconv.Itoa(report.Total.Completion)))
			fmt.Fprintln(w, RenderField("Total tokens", strconv.Itoa(report.Total.Total)))
			if report.Total.Cost > 0 {
				fmt.Fprintln(w, RenderField("Cost", fmt.Sprintf("$%.4f", report.Total.Cost)))
			}

			if len(report.Daily) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, TitleStyle.Render("By day"))
				for _, d := range report.Daily {
					fmt.Fprintf(w, "  %s  %4d conv  %8d tokens\n",
						d.Date.Format("2006-01-02"), d.Conversations, d.Tokens.Total)
				}
			}
			if len(report.Top) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, TitleStyle.Render("Top conversations"))
				for _, cu := range report.Top {
					fmt.Fprintf(w, "  %s  %8d tokens\n",
						runewidth.FillRight(runewidth.Truncate(cu.Title, titleColumnWidth, "…"), titleColumnWidth),
						cu.Tokens.Total)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Only count conversations updated in the last N days (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
