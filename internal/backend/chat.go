// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

// API paths for the chat endpoints.
const (
	pathChatStream = "/ai/chat/stream"
	pathChatVision = "/ai/chat/vision"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatRequest is the body of a streaming chat call.
type ChatRequest struct {
	Message      string               `json:"message"`
	History      []model.HistoryEntry `json:"history"`
	Temperature  *float64             `json:"temperature,omitempty"`
	TopP         *float64             `json:"top_p,omitempty"`
	MaxTokens    *int                 `json:"max_tokens,omitempty"`
	SystemPrompt *string              `json:"system_prompt,omitempty"`
}

// NewChatRequest builds a chat request from the live parameter values.
// An empty system prompt is left out.
func NewChatRequest(message string, history []model.Message, params model.ChatParameters) ChatRequest {
	req := ChatRequest{
		Message:     message,
		History:     model.History(history),
		Temperature: &params.Temperature,
		TopP:        &params.TopP,
		MaxTokens:   &params.MaxTokens,
	}
	if params.SystemPrompt != "" {
		req.SystemPrompt = &params.SystemPrompt
	}
	return req
}

// VisionRequest is the body of a vision call. ImageBase64 is the raw
// base64 payload without a data-URL prefix.
type VisionRequest struct {
	ChatRequest
	ImageBase64 string `json:"image_base64"`
}

// VisionResponse is the full reply of a vision call.
type VisionResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// CHAT CALLS
// =============================================================================

// StreamChat opens a streaming chat call and returns the response body.
// The caller must close it. Cancelling ctx aborts the request and makes
// pending reads on the body fail.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, newRequestID()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-Encoding", "identity").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(pathChatStream)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", http.MethodPost, pathChatStream, err)
	}
	if resp.IsError() {
		return nil, streamError(resp, http.MethodPost, pathChatStream)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, &APIError{
			Status: resp.StatusCode(),
			Method: http.MethodPost,
			Path:   pathChatStream,
			Detail: "empty response body",
		}
	}
	return resp.RawResponse.Body, nil
}

// Vision sends a single non-streaming chat call with an image attached.
func (c *Client) Vision(ctx context.Context, req VisionRequest) (string, error) {
	var out VisionResponse
	_, err := c.do(c.request(ctx).SetBody(req).SetResult(&out), http.MethodPost, pathChatVision)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}
