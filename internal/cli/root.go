// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP
// =============================================================================

// App holds the global flags and the session shared by every command.
type App struct {
	ConfigPath  string
	Verbose     bool
	MetricsAddr string

	In  io.Reader
	Out io.Writer
	Err io.Writer

	cfg     *config.Config
	logger  *slog.Logger
	sess    *session.Session
	metrics *http.Server
	closers []io.Closer
}

// NewApp creates an App bound to the process stdio.
func NewApp() *App {
	return &App{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Session returns the open session. Valid after the root pre-run.
func (a *App) Session() *session.Session {
	return a.sess
}

// open loads the configuration and builds the session.
func (a *App) open() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return err
	}
	if a.Verbose {
		cfg.Log.Level = "debug"
	}
	if a.MetricsAddr != "" {
		cfg.Metrics.Addr = a.MetricsAddr
	}

	logger, closer, err := config.NewLogger(cfg.Log, a.Err)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	a.closers = append(a.closers, closer)
	a.cfg = cfg
	a.logger = logger

	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	sess, err := session.New(cfg, logger)
	if err != nil {
		return err
	}
	a.sess = sess
	logger.Debug("session opened",
		"backend", cfg.Storage.Backend,
		"model", sess.Settings.SelectedModel(),
		"conversations", sess.Conversations.Len())
	return nil
}

// serveMetrics exposes the Prometheus registry on addr.
func (a *App) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// Close releases the session, the metrics server and the log file.
func (a *App) Close() error {
	var errs []error
	if a.sess != nil {
		errs = append(errs, a.sess.Close())
		a.sess = nil
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
		a.metrics = nil
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigchat",
		Short: "Streaming chat client for OpenRouter models",
		Long: `rigchat is a terminal chat client for OpenRouter.

Replies stream as they arrive, with model reasoning shown separately from
the answer. Settings and conversations persist between runs.

Quick Start:
  rigchat chat                       # Start chatting
  rigchat models                     # List models for your key
  rigchat config set api-key sk-or-… # Use your own key
  rigchat history export 0 --format md`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.open()
		},
	}

	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&app.ConfigPath, "config", "", "Config file (default ~/.rigchat/config.toml)")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&app.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newChatCommand(app),
		newModelsCommand(app),
		newConfigCommand(app),
		newHistoryCommand(app),
		newUsageCommand(app),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	app := NewApp()
	root := NewRootCommand(app)
	err := root.Execute()
	if cerr := app.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(app.Err, ErrorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}
