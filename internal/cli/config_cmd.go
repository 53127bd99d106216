// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// settingKeys lists the names accepted by "config set".
var settingKeys = []string{"api-key", "model", "temperature", "system-prompt"}

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the session settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the session settings and the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(app)
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a session setting",
		Long: `Change a session setting. Keys:

  api-key        Your OpenRouter API key (empty to use the shared key)
  model          Model id, e.g. meta-llama/llama-3.3-70b-instruct:free
  temperature    Sampling temperature between 0 and 2
  system-prompt  Global system prompt`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			return setSetting(app, args[0], value)
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func showConfig(app *App) error {
	sess := app.Session()
	snap := sess.Settings.Snapshot()
	w := app.Out

	key := "(not set)"
	if snap.APIKey != "" {
		key = util.Fingerprint(snap.APIKey)
		if snap.UsingDefaultKey {
			key += " (shared)"
		}
	}

	fmt.Fprintln(w, TitleStyle.Render("Settings"))
	fmt.Fprintln(w, RenderField("API key", key))
	fmt.Fprintln(w, RenderField("Model", snap.SelectedModel))
	fmt.Fprintln(w, RenderField("Temperature", strconv.FormatFloat(snap.Temperature, 'f', -1, 64)))
	fmt.Fprintln(w, RenderField("System prompt", util.TruncateRunes(snap.SystemPrompt, 60)))
	fmt.Fprintln(w)

	path := app.ConfigPath
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			path = p
		}
	}
	fmt.Fprintln(w, TitleStyle.Render("Configuration")+" "+DimStyle.Render(path))
	enc := toml.NewEncoder(w)
	if err := enc.Encode(sess.Config.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func setSetting(app *App, key, value string) error {
	settings := app.Session().Settings

	var err error
	switch strings.ToLower(key) {
	case "api-key", "apikey", "key":
		if strings.TrimSpace(value) == "" {
			value = app.cfg.Defaults.APIKey
		}
		err = settings.SetAPIKey(value)
		if err == nil {
			shown := util.Fingerprint(settings.APIKey())
			switch {
			case settings.APIKey() == "":
				shown = "(not set)"
			case settings.UsingDefaultKey():
				shown = "shared key"
			}
			fmt.Fprintln(app.Out, SuccessStyle.Render("API key set:")+" "+shown)
		}
	case "model":
		if value == "" {
			return fmt.Errorf("model id is required")
		}
		err = settings.SetModel(value)
		if err == nil {
			fmt.Fprintln(app.Out, SuccessStyle.Render("Model set:")+" "+settings.SelectedModel())
		}
	case "temperature", "temp":
		t, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid temperature %q", value)
		}
		err = settings.SetTemperature(t)
		if err == nil {
			fmt.Fprintln(app.Out, SuccessStyle.Render("Temperature set:")+" "+value)
		}
	case "system-prompt", "system":
		err = settings.SetSystemPrompt(value)
		if err == nil {
			fmt.Fprintln(app.Out, SuccessStyle.Render("System prompt updated"))
		}
	default:
		return fmt.Errorf("unknown setting %q (want one of %s)", key, strings.Join(settingKeys, ", "))
	}
	return err
}
