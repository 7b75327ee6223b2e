// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
)

// ProgressFunc receives the full accumulated text after each fragment.
type ProgressFunc func(full string)

// Accumulator concatenates content fragments into the running reply.
// Fragments are trusted to be strictly incremental; nothing is deduplicated.
type Accumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	content    strings.Builder
	fragments  int
	onProgress ProgressFunc
}

// NewAccumulator creates an accumulator. onProgress may be nil.
func NewAccumulator(onProgress ProgressFunc) *Accumulator {
	return &Accumulator{onProgress: onProgress}
}

// Add folds a fragment into the total and reports the new full text.
// Empty fragments carry nothing and are ignored.
func (a *Accumulator) Add(fragment string) {
	if fragment == "" {
		return
	}
	a.content.WriteString(fragment)
	a.fragments++
	if a.onProgress != nil {
		a.onProgress(a.content.String())
	}
}

// Text returns the accumulated text. It is empty if no fragment arrived.
func (a *Accumulator) Text() string {
	return a.content.String()
}

// Fragments returns the number of non-empty fragments folded in.
func (a *Accumulator) Fragments() int {
	return a.fragments
}

// FrameFunc returns a FrameFunc that folds each frame's content.
func (a *Accumulator) FrameFunc() FrameFunc {
	return func(f Frame) error {
		a.Add(f.Content)
		return nil
	}
}
