// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
)

// =============================================================================
// PROFILE TYPE
// =============================================================================

// Profile is an LLM configuration stored on the backend. The backend routes
// every chat call to the profile marked IsDefault.
type Profile struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`

	IsDefault bool `json:"is_default"`

	SupportsVision    bool `json:"supports_vision"`
	SupportsReasoning bool `json:"supports_reasoning"`
	SupportsMCP       bool `json:"supports_mcp"`
	SupportsSkills    bool `json:"supports_skills"`
	SupportsStreaming bool `json:"supports_streaming"`

	CreatedAt string `json:"created_at,omitempty"`
}

// MaskedKey returns the API key with all but the last four characters hidden.
func (p Profile) MaskedKey() string {
	if p.APIKey == "" {
		return "(none)"
	}
	if len(p.APIKey) <= 4 {
		return strings.Repeat("*", len(p.APIKey))
	}
	return strings.Repeat("*", 8) + p.APIKey[len(p.APIKey)-4:]
}

// CapabilitiesString returns a comma-separated list of capabilities.
func (p Profile) CapabilitiesString() string {
	var caps []string
	if p.SupportsStreaming {
		caps = append(caps, "streaming")
	}
	if p.SupportsVision {
		caps = append(caps, "vision")
	}
	if p.SupportsReasoning {
		caps = append(caps, "reasoning")
	}
	if p.SupportsMCP {
		caps = append(caps, "mcp")
	}
	if p.SupportsSkills {
		caps = append(caps, "skills")
	}
	if len(caps) == 0 {
		return "text only"
	}
	return strings.Join(caps, ", ")
}

// ActiveProfile returns the profile marked as default.
func ActiveProfile(profiles []Profile) (Profile, bool) {
	for _, p := range profiles {
		if p.IsDefault {
			return p, true
		}
	}
	return Profile{}, false
}
