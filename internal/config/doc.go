// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and logging setup for rigchat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*, plus OPENROUTER_API_KEY)
//   - ~/.rigchat/config.toml (or the path given with --config)
//   - Built-in defaults
//
// A .env file in the working directory is loaded into the environment by the
// command layer before Load runs.
//
// # Sections
//
//   - [api]: endpoint, attribution headers, pacing, catalog retries
//   - [stream]: request and idle timeouts, partial-commit policy
//   - [storage]: durable store backend and data directory
//   - [defaults]: shared credential, default model, temperature, system prompt
//   - [log]: level, format, optional log directory
//   - [metrics]: Prometheus listen address
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	logger, closer, err := config.NewLogger(cfg.Log, os.Stderr)
package config
