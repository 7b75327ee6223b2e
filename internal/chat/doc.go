// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives a single user-to-assistant exchange.
//
// A turn appends the user message and an empty assistant placeholder to the
// transcript before any network activity, then fills the placeholder in
// place: fragment by fragment for text turns, once for image turns.
//
// Text turns move Idle -> AwaitingFirstByte -> Streaming -> Finalized.
// Image turns move Idle -> AwaitingResponse -> Finalized.
//
// Failures keep whatever the placeholder holds and are returned to the
// caller; nothing is retried or rolled back.
package chat
