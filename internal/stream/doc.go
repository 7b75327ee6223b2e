// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the assistant's streaming chat responses.
//
// The backend frames a reply as newline-delimited records:
//
//	data: {"content": "Hel"}
//	data: {"content": "lo"}
//	data: [DONE]
//
// A record of the form data: {"error": "..."} aborts the stream. Lines
// without the data prefix are ignored, undecodable payloads are skipped,
// and a transport close without [DONE] counts as a normal end.
//
// # Key Types
//
//   - Decoder: turns raw byte chunks into Frames, carrying partial lines
//     across chunk boundaries
//   - Accumulator: folds content fragments into the full reply and reports
//     the full text after every fragment
//   - Consume: runs both over an io.Reader
package stream
