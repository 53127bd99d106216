// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session wires the stores, the OpenRouter client and the stream
// engine together once per process.
//
// # Key Types
//
//   - Session: owns every service and passes them by reference
//   - Status: a point-in-time summary for display
//
// # Usage
//
//	sess, err := session.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	out, err := sess.Submit(ctx, "What is the capital of France?")
package session
