// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

const chatHelp = `Commands:
  /new            Start a new conversation
  /list           List conversations
  /switch N       Make conversation N active
  /model [ID]     Show or change the model
  /system [TEXT]  Set (or clear) this conversation's system prompt
  /help           Show this help
  /quit           Exit
Ctrl+C cancels a reply in progress, Ctrl+D exits.`

// errQuit ends the chat loop.
var errQuit = errors.New("quit")

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linerReader provides line editing and persistent input history.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// scanReader reads lines from a non-terminal input.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Prompt(prompt string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Each line you type is sent to the selected model and the reply streams back.
Reasoning, when the model provides it, is shown dimmed before the answer.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in lineReader
			if app.In == os.Stdin && IsTTY() {
				in = newLinerReader()
			} else {
				in = &scanReader{scanner: bufio.NewScanner(app.In)}
			}
			defer in.Close()

			repl := &chatREPL{sess: app.Session(), out: app.Out, in: in}
			return repl.run(cmd.Context())
		},
	}
}

// chatREPL is one interactive chat loop.
type chatREPL struct {
	sess *session.Session
	out  io.Writer
	in   lineReader
}

func (c *chatREPL) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.printWelcome()

	printer := newStreamPrinter(c.out)
	unsubscribe := c.sess.Engine.Subscribe(printer.Observe)
	defer unsubscribe()

	for {
		input, err := c.in.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if err := c.handleCommand(input); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(c.out, ErrorStyle.Render("Error:")+" "+err.Error())
			}
			continue
		}

		out, err := c.submit(ctx, input)
		if err != nil {
			fmt.Fprintln(c.out, ErrorStyle.Render("Error:")+" "+err.Error())
			continue
		}
		printer.finish(out)
		fmt.Fprintln(c.out)
	}
}

// submit sends one message. Ctrl+C while it runs cancels the reply instead
// of killing the process.
func (c *chatREPL) submit(ctx context.Context, text string) (engine.Outcome, error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sigs)
		close(done)
	}()

	go func() {
		select {
		case <-sigs:
			c.sess.Engine.Cancel()
		case <-done:
		}
	}()

	return c.sess.Submit(ctx, text)
}

func (c *chatREPL) printWelcome() {
	st := c.sess.GetStatus()
	fmt.Fprintln(c.out, TitleStyle.Render("rigchat "+Version))
	fmt.Fprintln(c.out, RenderField("Model", st.Model))
	if !st.KeyConfigured {
		fmt.Fprintln(c.out, WarningStyle.Render("No API key set. Use: rigchat config set api-key <key>"))
	} else if st.UsingDefaultKey {
		fmt.Fprintln(c.out, DimStyle.Render("Using the shared key: free models only."))
	}
	fmt.Fprintln(c.out, DimStyle.Render("Type /help for commands."))
	fmt.Fprintln(c.out)
}

// handleCommand runs one slash command.
func (c *chatREPL) handleCommand(input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return errQuit

	case "/help", "/h", "/?":
		fmt.Fprintln(c.out, chatHelp)

	case "/new":
		conv, err := c.sess.Conversations.CreateConversation()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, SuccessStyle.Render("Started a new conversation")+" "+DimStyle.Render(conv.ID))

	case "/list":
		writeConversationTable(c.out, c.sess.Conversations.Conversations(), c.sess.Conversations.ActiveIndex())

	case "/switch":
		index, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("usage: /switch N")
		}
		if err := c.sess.Conversations.SetActive(index); err != nil {
			return err
		}
		conv, _ := c.sess.Conversations.Active()
		fmt.Fprintln(c.out, SuccessStyle.Render("Switched to")+" "+conv.Title)
		for _, turn := range conv.Turns {
			printTurn(c.out, turn)
		}

	case "/model":
		if arg == "" {
			fmt.Fprintln(c.out, RenderField("Model", c.sess.Settings.SelectedModel()))
			return nil
		}
		if err := c.sess.Settings.SetModel(arg); err != nil {
			return err
		}
		fmt.Fprintln(c.out, SuccessStyle.Render("Model set to")+" "+c.sess.Settings.SelectedModel())

	case "/system":
		if err := c.sess.Conversations.SetSystemPromptOverride(arg); err != nil {
			return err
		}
		if arg == "" {
			fmt.Fprintln(c.out, SuccessStyle.Render("Using the global system prompt"))
		} else {
			fmt.Fprintln(c.out, SuccessStyle.Render("System prompt set for this conversation"))
		}

	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}
