// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small file and text helpers.
//
//   - AtomicWriteFile: crash-safe writes for config, outbox entries and exports
//   - TruncateRunes, TruncateWidth, PadWidth: terminal column handling for
//     titles and tables, built on go-runewidth
//   - FormatAge: relative ages for conversation lists
package util
