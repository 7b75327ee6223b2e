// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"net/http"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

const (
	pathParse  = "/ai/parse"
	pathSubmit = "/ai/submit"
)

// ParseResult is the extraction endpoint's answer. Record is nil when
// nothing structured was found.
type ParseResult struct {
	Parsed bool          `json:"parsed"`
	Record *model.Record `json:"data"`
}

// SubmitResult is the domain submission endpoint's answer.
type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Parse asks the backend to extract a structured record from text.
func (c *Client) Parse(ctx context.Context, text string) (*ParseResult, error) {
	var out ParseResult
	body := map[string]string{"text": text}
	if _, err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost, pathParse); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit writes a confirmed record to its dashboard module. A rejected
// record comes back as Success false with the backend's message, not as
// an error.
func (c *Client) Submit(ctx context.Context, rec model.Record) (*SubmitResult, error) {
	var out SubmitResult
	body := struct {
		DataType model.DataType `json:"data_type"`
		Data     map[string]any `json:"data"`
	}{rec.DataType, rec.Data}
	if _, err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost, pathSubmit); err != nil {
		return nil, err
	}
	return &out, nil
}
