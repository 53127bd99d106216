// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry aggregates the token usage and cost that OpenRouter
// reports on assistant turns.
//
// Usage records are stored verbatim on each turn. This package decodes the
// fields it knows (prompt, completion and total tokens, plus cost when usage
// accounting is enabled) and ignores the rest.
//
// # Usage
//
//	report := telemetry.Summarize(convs, time.Now(), 7)
//	fmt.Println(report.Total.TotalTokens)
package telemetry
