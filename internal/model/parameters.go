// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnknownParameter is returned by With for a key it does not know.
var ErrUnknownParameter = errors.New("unknown parameter")

// Parameter panel bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinMaxTokens   = 256
	MaxMaxTokens   = 32768
	MaxTokensStep  = 256

	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
	DefaultMaxTokens   = 8192
)

// ChatParameters are the sampling settings for the next turn.
// They are request-scoped: a turn reads them once at send time.
type ChatParameters struct {
	Temperature  float64 `json:"temperature" toml:"temperature" yaml:"temperature"`
	TopP         float64 `json:"top_p" toml:"top_p" yaml:"top_p"`
	MaxTokens    int     `json:"max_tokens" toml:"max_tokens" yaml:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" toml:"system_prompt" yaml:"system_prompt"`
}

// DefaultParameters returns the panel's reset values.
func DefaultParameters() ChatParameters {
	return ChatParameters{
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Clamp returns a copy with every value forced into the panel range.
// max_tokens is rounded to the nearest step.
func (p ChatParameters) Clamp() ChatParameters {
	p.Temperature = clampFloat(p.Temperature, MinTemperature, MaxTemperature)
	p.TopP = clampFloat(p.TopP, MinTopP, MaxTopP)

	steps := math.Round(float64(p.MaxTokens) / MaxTokensStep)
	p.MaxTokens = int(steps) * MaxTokensStep
	if p.MaxTokens < MinMaxTokens {
		p.MaxTokens = MinMaxTokens
	}
	if p.MaxTokens > MaxMaxTokens {
		p.MaxTokens = MaxMaxTokens
	}
	return p
}

// String formats the parameters for status lines.
func (p ChatParameters) String() string {
	s := fmt.Sprintf("temp %.2f | top_p %.2f | max %d", p.Temperature, p.TopP, p.MaxTokens)
	if p.SystemPrompt != "" {
		s += " | system prompt set"
	}
	return s
}

// With returns a copy with one value set from text. key accepts the
// config names and the short forms temp, topp, maxtokens and system.
// The result is not clamped.
func (p ChatParameters) With(key, value string) (ChatParameters, error) {
	key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	value = strings.TrimSpace(value)
	switch key {
	case "temperature", "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("temperature: expected a number from 0 to 2")
		}
		p.Temperature = f
	case "top_p", "topp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("top_p: expected a number from 0 to 1")
		}
		p.TopP = f
	case "max_tokens", "maxtokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("max_tokens: expected a whole number from %d to %d", MinMaxTokens, MaxMaxTokens)
		}
		p.MaxTokens = n
	case "system_prompt", "system":
		p.SystemPrompt = strings.Trim(value, `"`)
	default:
		return p, fmt.Errorf("%w %q", ErrUnknownParameter, key)
	}
	return p, nil
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
