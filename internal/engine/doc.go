// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine runs streaming chat completions against OpenRouter.
//
// Each Send walks an explicit state machine:
//
//	Idle -> Sending -> Streaming -> Completed | Aborted | Failed -> Idle
//
// Reasoning and content fragments are routed into an Accumulator whose
// observers see every fragment as soon as its frame is decoded. On
// Completed the engine commits one assistant turn holding the full content,
// the reasoning trace and the usage object. On Failed it commits one turn
// describing the error. On Aborted it commits nothing unless partial commits
// are enabled.
//
// # Usage
//
//	eng := engine.New(settingsStore, convStore, client, engine.DefaultOptions(), logger)
//	unsubscribe := eng.Subscribe(func(u engine.Update) { ... })
//	defer unsubscribe()
//	out, err := eng.SendTurn(ctx, model.UserTurn("Hello!"))
package engine
