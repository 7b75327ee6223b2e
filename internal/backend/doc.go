// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the dashboard's AI assistant API.
//
// It covers the streaming and vision chat endpoints, conversation CRUD,
// title generation, record extraction and submission, and LLM profile
// management. JSON calls use a resty client with a request timeout;
// streaming calls use a second client without one, bounded by the
// caller's context.
//
// # Usage
//
//	client := backend.New("http://localhost:8000/api")
//	body, err := client.StreamChat(ctx, backend.NewChatRequest(text, history, params))
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
package backend
