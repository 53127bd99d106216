// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"slices"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// TopConversations is the number of conversations kept in a report's
// ranking.
const TopConversations = 5

// =============================================================================
// USAGE TYPES
// =============================================================================

// TokenCount is one usage record, or the sum of several.
type TokenCount struct {
	Prompt     int     `json:"prompt_tokens"`
	Completion int     `json:"completion_tokens"`
	Total      int     `json:"total_tokens"`
	Cost       float64 `json:"cost"`
}

// Add accumulates other into t.
func (t *TokenCount) Add(other TokenCount) {
	t.Prompt += other.Prompt
	t.Completion += other.Completion
	t.Total += other.Total
	t.Cost += other.Cost
}

// ParseUsage returns the usage reported on turn. The second return is false
// when the turn has none or it cannot be decoded. A missing total is derived
// from the parts.
func ParseUsage(turn model.Turn) (TokenCount, bool) {
	u, ok, err := turn.ParsedUsage()
	if !ok || err != nil {
		return TokenCount{}, false
	}
	tc := TokenCount{
		Prompt:     u.PromptTokens,
		Completion: u.CompletionTokens,
		Total:      u.TotalTokens,
		Cost:       u.Cost,
	}
	if tc.Total == 0 {
		tc.Total = tc.Prompt + tc.Completion
	}
	return tc, true
}

// ConversationUsage is the usage of one conversation.
type ConversationUsage struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Updated time.Time  `json:"updated"`
	Replies int        `json:"replies"`
	Metered int        `json:"metered"`
	Tokens  TokenCount `json:"tokens"`
}

// DailyUsage is the usage of the conversations last updated on one day.
type DailyUsage struct {
	Date          time.Time  `json:"date"`
	Conversations int        `json:"conversations"`
	Tokens        TokenCount `json:"tokens"`
}

// Report aggregates usage across conversations.
type Report struct {
	Days  int        `json:"days"`
	Total TokenCount `json:"total"`

	// Replies counts assistant turns; Metered counts the ones that carried
	// a usage record.
	Replies int `json:"replies"`
	Metered int `json:"metered"`

	Daily []DailyUsage        `json:"daily"`
	Top   []ConversationUsage `json:"top"`
}

// =============================================================================
// AGGREGATION
// =============================================================================

// ForConversation sums the usage of every assistant turn in conv.
func ForConversation(conv *model.Conversation) ConversationUsage {
	cu := ConversationUsage{ID: conv.ID, Title: conv.Title, Updated: conv.UpdatedAt}
	for _, turn := range conv.Turns {
		if turn.Role != model.RoleAssistant {
			continue
		}
		cu.Replies++
		if tc, ok := ParseUsage(turn); ok {
			cu.Metered++
			cu.Tokens.Add(tc)
		}
	}
	return cu
}

// Summarize builds a report over the conversations updated in the last days
// days before now. Days <= 0 includes every conversation.
func Summarize(convs []*model.Conversation, now time.Time, days int) *Report {
	report := &Report{
		Days:  days,
		Daily: make([]DailyUsage, 0),
		Top:   make([]ConversationUsage, 0),
	}

	var from time.Time
	if days > 0 {
		from = now.AddDate(0, 0, -days)
	}

	daily := make(map[string]*DailyUsage)
	var all []ConversationUsage
	for _, conv := range convs {
		if conv == nil || conv.UpdatedAt.Before(from) {
			continue
		}
		cu := ForConversation(conv)
		report.Replies += cu.Replies
		report.Metered += cu.Metered
		report.Total.Add(cu.Tokens)
		all = append(all, cu)

		key := conv.UpdatedAt.Format("2006-01-02")
		d, ok := daily[key]
		if !ok {
			y, m, dd := conv.UpdatedAt.Date()
			d = &DailyUsage{Date: time.Date(y, m, dd, 0, 0, 0, 0, conv.UpdatedAt.Location())}
			daily[key] = d
		}
		d.Conversations++
		d.Tokens.Add(cu.Tokens)
	}

	for _, d := range daily {
		report.Daily = append(report.Daily, *d)
	}
	slices.SortFunc(report.Daily, func(a, b DailyUsage) int {
		return a.Date.Compare(b.Date)
	})

	slices.SortStableFunc(all, func(a, b ConversationUsage) int {
		return b.Tokens.Total - a.Tokens.Total
	})
	for _, cu := range all {
		if len(report.Top) == TopConversations || cu.Tokens.Total == 0 {
			break
		}
		report.Top = append(report.Top, cu)
	}
	return report
}
