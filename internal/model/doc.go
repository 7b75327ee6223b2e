// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the assistant client.
//
// The JSON shapes match the dashboard backend: messages carry role, content,
// timestamp and hasImage; conversations carry id, title and the full
// message list.
//
// # Key Types
//
//   - Message: one turn of a transcript
//   - Conversation: ordered transcript plus metadata
//   - ChatParameters: request-scoped sampling settings
//   - Profile: an LLM configuration profile stored on the backend
//   - Record: a structured record extracted from an assistant reply
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Messages = append(conv.Messages, model.NewUserMessage("hello"))
//	params := model.DefaultParameters().Clamp()
package model
