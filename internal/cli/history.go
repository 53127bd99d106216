// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

const titleColumnWidth = 40

func newHistoryCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "List, show, export or clear saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistory(app)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistory(app)
		},
	}

	show := &cobra.Command{
		Use:   "show N",
		Short: "Print conversation N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := conversationAt(app, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, TitleStyle.Render(conv.Title))
			fmt.Fprintln(app.Out, RenderSeparator(min(GetTerminalWidth()-4, 70)))
			for _, turn := range conv.Turns {
				printTurn(app.Out, turn)
			}
			return nil
		},
	}

	var format, outputDir string
	var noReasoning bool
	exp := &cobra.Command{
		Use:   "export N",
		Short: "Export conversation N to a file",
		Long: `Export conversation N to a file.

Formats: md (Markdown), json (same shape as the saved history), yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := conversationAt(app, args[0])
			if err != nil {
				return err
			}
			opts := export.DefaultOptions()
			opts.IncludeReasoning = !noReasoning
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			path, err := export.ToFile(conv, exporter, outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, SuccessStyle.Render("Exported to")+" "+path)
			return nil
		},
	}
	exp.Flags().StringVarP(&format, "format", "f", "md", "Export format: md, json or yaml")
	exp.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	exp.Flags().BoolVar(&noReasoning, "no-reasoning", false, "Leave model reasoning out of the export")

	del := &cobra.Command{
		Use:   "delete N",
		Short: "Delete conversation N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation number %q", args[0])
			}
			if err := app.Session().Conversations.DeleteConversation(index); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, SuccessStyle.Render("Deleted conversation")+" "+args[0])
			return nil
		},
	}

	var confirm bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete %d conversations without --confirm",
					app.Session().Conversations.Len())
			}
			if err := app.Session().Conversations.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, SuccessStyle.Render("History cleared"))
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&confirm, "confirm", false, "Required confirmation flag")

	cmd.AddCommand(list, show, exp, del, clearCmd)
	return cmd
}

func listHistory(app *App) error {
	convs := app.Session().Conversations
	writeConversationTable(app.Out, convs.Conversations(), convs.ActiveIndex())
	return nil
}

func conversationAt(app *App, arg string) (*model.Conversation, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation number %q", arg)
	}
	convs := app.Session().Conversations.Conversations()
	if index < 0 || index >= len(convs) {
		return nil, fmt.Errorf("no conversation %d (have %d)", index, len(convs))
	}
	return convs[index], nil
}

// writeConversationTable prints one row per conversation. Titles are padded
// by display width so CJK and emoji titles stay aligned.
func writeConversationTable(w io.Writer, convs []*model.Conversation, active int) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations yet."))
		return
	}

	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("  %3s  %s  %5s  %s",
		"#", runewidth.FillRight("TITLE", titleColumnWidth), "TURNS", "UPDATED")))
	for i, conv := range convs {
		marker := " "
		if i == active {
			marker = "*"
		}
		title := runewidth.Truncate(conv.Title, titleColumnWidth, "…")
		line := fmt.Sprintf("%s %3d  %s  %5d  %s",
			marker,
			i,
			runewidth.FillRight(title, titleColumnWidth),
			conv.TurnCount(),
			conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
		if i == active {
			line = ActiveStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
