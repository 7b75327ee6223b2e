// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

const (
	pathConfigs = "/ai/configs"
	pathTest    = "/ai/test"
)

func configPath(id string) string {
	return pathConfigs + "/" + url.PathEscape(id)
}

// ConnectionStatus is the answer of the connection check.
type ConnectionStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the test message reached the model.
func (s ConnectionStatus) OK() bool {
	return s.Status == "success"
}

// ListProfiles returns every stored LLM profile.
func (c *Client) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	var out []model.Profile
	if _, err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, pathConfigs); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProfile stores a new profile and returns it with its id.
func (c *Client) CreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	var out model.Profile
	if _, err := c.do(c.request(ctx).SetBody(p).SetResult(&out), http.MethodPost, pathConfigs); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile replaces a stored profile.
func (c *Client) UpdateProfile(ctx context.Context, id string, p model.Profile) (*model.Profile, error) {
	var out model.Profile
	if _, err := c.do(c.request(ctx).SetBody(p).SetResult(&out), http.MethodPut, configPath(id)); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	_, err := c.do(c.request(ctx), http.MethodDelete, configPath(id))
	return err
}

// ActivateProfile marks a profile as the one the backend routes chats to.
func (c *Client) ActivateProfile(ctx context.Context, id string) error {
	_, err := c.do(c.request(ctx), http.MethodPost, configPath(id)+"/activate")
	return err
}

// TestConnection sends a test message through the active profile.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	var out ConnectionStatus
	if _, err := c.do(c.request(ctx).SetResult(&out), http.MethodPost, pathTest); err != nil {
		return nil, err
	}
	return &out, nil
}
