// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_ReportsEveryPrefix(t *testing.T) {
	fragments := []string{"I ", "spent ", "$45", " at ", "Starbucks"}

	var seen []string
	acc := NewAccumulator(func(full string) {
		seen = append(seen, full)
	})
	for _, f := range fragments {
		acc.Add(f)
	}

	if assert.Len(t, seen, len(fragments)) {
		for k := range fragments {
			assert.Equal(t, strings.Join(fragments[:k+1], ""), seen[k], "prefix %d", k)
		}
	}
	assert.Equal(t, "I spent $45 at Starbucks", acc.Text())
	assert.Equal(t, len(fragments), acc.Fragments())
}

func TestAccumulator_NoFragmentsIsEmpty(t *testing.T) {
	calls := 0
	acc := NewAccumulator(func(string) { calls++ })
	acc.Add("")

	assert.Equal(t, "", acc.Text())
	assert.Zero(t, calls)
	assert.Zero(t, acc.Fragments())
}

func TestAccumulator_NoDeduplication(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Add("ha")
	acc.Add("ha")
	assert.Equal(t, "haha", acc.Text())
}
