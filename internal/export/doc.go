// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to files.
//
// # Key Types
//
//   - Exporter: converts a conversation to bytes in one format
//   - Options: output directory, metadata and timestamp switches
//
// # Supported Formats
//
//   - Markdown: readable transcript with YAML frontmatter
//   - JSON: the conversation as the backend stores it
//   - YAML: the same data for hand editing
//
// # Usage
//
//	exporter, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(conv, exporter, opts)
package export
