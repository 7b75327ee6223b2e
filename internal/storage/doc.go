// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps conversation writes that failed to reach the
// backend.
//
// Every record lives on the backend; the only local state is an outbox of
// full-replace writes waiting to be replayed. Each entry is one JSON file,
// written atomically. A conversation has at most one pending entry because
// a newer full-replace write supersedes any older one.
//
// # Usage
//
//	box, err := storage.NewOutbox(filepath.Join(dir, "outbox"))
//	entry, err := box.Add(convID, title, messages, cause)
//
// Replay pending entries, oldest first:
//
//	res, err := box.Replay(ctx, func(ctx context.Context, e *storage.Entry) error {
//		return client.UpdateConversation(ctx, e.ConversationID, ...)
//	})
//
// # Storage Location
//
// Entries are stored in ~/.lifedash/outbox/ by default.
package storage
