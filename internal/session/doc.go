// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session ties one interactive chat session together.
//
// A Manager owns the active transcript and wires the turn orchestrator,
// the conversation list, the extraction trigger and the turn statistics.
// Both the line REPL and the full-screen UI drive it.
//
// # Key Types
//
//   - Manager: busy gate, send, regenerate, edit and conversation switching
//   - Turn: a finished turn together with its write-back outcome
//
// # Usage
//
//	mgr := session.New(client, session.WithOutbox(box), session.WithStats(stats))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	turn, err := mgr.Send(ctx, "I spent $45 at Starbucks", nil)
//
// # Cancellation
//
// Every turn runs under its own context. Cancel, switching conversation or
// starting a new one stops the stream. The partial reply is kept and still
// written back to the conversation the turn started in.
package session
