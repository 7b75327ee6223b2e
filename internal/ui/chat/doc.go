// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat view.
//
// The screen is a Bubble Tea program over a session.Manager:
//
//	+--------------------+-----------------------------------------+
//	| Conversations      | Lifedash | Grocery budget | gpt-4o      |
//	|  1 Grocery budget  |                                         |
//	|  2 Flight to JFK   | You                                     |
//	|                    |   I spent $45 at Starbucks              |
//	|                    | Assistant                               |
//	|                    |   Logged. That's your third coffee...   |
//	|                    +-----------------------------------------+
//	|                    | > _                                     |
//	+--------------------+-----------------------------------------+
//	| streaming | temp 0.70 | top_p 1.00 | max 8192                 |
//	+--------------------------------------------------------------+
//
// # Key Bindings
//
//   - Enter: send (a line starting with / runs a command)
//   - Alt+Enter: new line
//   - Esc / Ctrl+C: stop the reply in progress
//   - Ctrl+N: new conversation
//   - Ctrl+R: regenerate the last reply
//   - Ctrl+E: edit the last message
//   - Tab: move focus to the conversation list
//   - PgUp/PgDn: scroll
//   - Ctrl+Q: quit
//
// In the conversation list, Enter opens, n creates, d deletes (after y).
//
// # Streaming
//
// Session hooks run on the turn's goroutine. They only record the latest
// text in a StreamingBuffer; the Update loop polls it at the configured
// frame rate, so a fast stream never floods the program with messages.
//
// # Record Confirmation
//
// When a finished reply carries a record, a modal shows its fields:
// y saves it to the dashboard, n discards it, d toggles the JSON view.
package chat
