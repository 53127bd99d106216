// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func reply(content, usage string) model.Turn {
	turn := model.AssistantTurn(content)
	if usage != "" {
		turn.Usage = json.RawMessage(usage)
	}
	return turn
}

func conversation(t *testing.T, updated time.Time, turns ...model.Turn) *model.Conversation {
	t.Helper()
	conv := model.NewConversation(updated)
	require.NoError(t, conv.Append(model.UserTurn("question"), updated))
	for _, turn := range turns {
		require.NoError(t, conv.Append(turn, updated))
	}
	return conv
}

func TestParseUsage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want TokenCount
		ok   bool
	}{
		{"full", `{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15,"cost":0.002}`, TokenCount{10, 5, 15, 0.002}, true},
		{"derived total", `{"prompt_tokens":10,"completion_tokens":5}`, TokenCount{10, 5, 15, 0}, true},
		{"unknown fields ignored", `{"total_tokens":7,"prompt_tokens_details":{"cached_tokens":2}}`, TokenCount{Total: 7}, true},
		{"empty", ``, TokenCount{}, false},
		{"not an object", `[1,2]`, TokenCount{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUsage(reply("r", tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want.Cost, got.Cost, 1e-9)
			got.Cost, tt.want.Cost = 0, 0
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForConversation(t *testing.T) {
	conv := conversation(t, now,
		reply("a", `{"prompt_tokens":10,"completion_tokens":5}`),
		model.UserTurn("again"),
		reply("b", ""),
		reply("c", `{"total_tokens":20}`),
	)

	cu := ForConversation(conv)
	assert.Equal(t, 3, cu.Replies)
	assert.Equal(t, 2, cu.Metered)
	assert.Equal(t, 35, cu.Tokens.Total)
	assert.Equal(t, 10, cu.Tokens.Prompt)
}

func TestSummarize(t *testing.T) {
	convs := []*model.Conversation{
		conversation(t, now.Add(-time.Hour), reply("x", `{"total_tokens":100}`)),
		conversation(t, now.Add(-2*time.Hour), reply("y", `{"total_tokens":300}`)),
		conversation(t, now.AddDate(0, 0, -2), reply("z", `{"total_tokens":50}`)),
		conversation(t, now.AddDate(0, 0, -30), reply("old", `{"total_tokens":1000}`)),
		conversation(t, now, reply("unmetered", "")),
	}

	report := Summarize(convs, now, 7)
	assert.Equal(t, 450, report.Total.Total)
	assert.Equal(t, 4, report.Replies)
	assert.Equal(t, 3, report.Metered)

	require.Len(t, report.Daily, 2)
	assert.True(t, report.Daily[0].Date.Before(report.Daily[1].Date))
	assert.Equal(t, 50, report.Daily[0].Tokens.Total)
	assert.Equal(t, 3, report.Daily[1].Conversations)

	require.Len(t, report.Top, 3)
	assert.Equal(t, 300, report.Top[0].Tokens.Total)
	assert.Equal(t, 100, report.Top[1].Tokens.Total)

	everything := Summarize(convs, now, 0)
	assert.Equal(t, 1450, everything.Total.Total)
}

func TestSummarize_Empty(t *testing.T) {
	report := Summarize(nil, now, 7)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Daily)
	assert.Empty(t, report.Top)
}
