// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigchat command line.
//
// # Commands
//
//   - chat: interactive streaming chat with slash commands
//   - models: list the models available for the current key
//   - config: show or change the session settings
//   - history: list, export or clear saved conversations
//
// Every command loads config.toml (see package config), optionally a .env
// file in the working directory, and opens one session.Session.
package cli
