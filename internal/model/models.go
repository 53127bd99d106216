// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FreeMarker is the substring that identifies models usable with the shared
// default credential.
const FreeMarker = "free"

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// Pricing is the per-token price reported by the provider. Values are kept as
// the decimal strings the provider sends.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Request    string `json:"request,omitempty"`
	Image      string `json:"image,omitempty"`
}

// IsFree reports whether both prompt and completion prices are zero.
func (p Pricing) IsFree() bool {
	return isZeroPrice(p.Prompt) && isZeroPrice(p.Completion)
}

func isZeroPrice(s string) bool {
	if s == "" {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == 0
}

// ModelInfo is a normalized catalog entry.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	ContextLength int     `json:"context_length"`
	Pricing       Pricing `json:"pricing"`
}

// DisplayName returns the name, falling back to the id.
func (m ModelInfo) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// IsFreeTier reports whether the name or id carries the free marker,
// case-insensitively.
func (m ModelInfo) IsFreeTier() bool {
	return IsFreeTierID(m.ID) || strings.Contains(strings.ToLower(m.Name), FreeMarker)
}

// IsFreeTierID reports whether a bare model id carries the free marker.
func IsFreeTierID(id string) bool {
	return strings.Contains(strings.ToLower(id), FreeMarker)
}

// ContextString returns a short human form of the context window.
func (m ModelInfo) ContextString() string {
	switch {
	case m.ContextLength <= 0:
		return "-"
	case m.ContextLength >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(m.ContextLength)/1_000_000)
	case m.ContextLength >= 1000:
		return fmt.Sprintf("%dK", m.ContextLength/1000)
	default:
		return strconv.Itoa(m.ContextLength)
	}
}

// =============================================================================
// CATALOG HELPERS
// =============================================================================

// FilterModels returns the models visible under the given fallback flag,
// sorted by display name. When freeOnly is false every entry is kept.
// The input slice is not modified.
func FilterModels(models []ModelInfo, freeOnly bool) []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if freeOnly && !m.IsFreeTier() {
			continue
		}
		out = append(out, m)
	}
	SortByName(out)
	return out
}

// SortByName sorts models by display name, case-insensitively, using the id
// to break ties.
func SortByName(models []ModelInfo) {
	sort.SliceStable(models, func(i, j int) bool {
		a := strings.ToLower(models[i].DisplayName())
		b := strings.ToLower(models[j].DisplayName())
		if a != b {
			return a < b
		}
		return models[i].ID < models[j].ID
	})
}

// ContainsModel reports whether id is present in models.
func ContainsModel(models []ModelInfo, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
