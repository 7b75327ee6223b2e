// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the local conversation list in step with the
// backend.
//
// Writes are full replacements of a conversation's title and message list.
// The backend has no revision check, so the last write wins. A write that
// fails is reported to the caller and parked in the storage outbox; pending
// writes are replayed before the next write and at startup.
//
// The list always holds at least one conversation once Load has succeeded.
package conversation
