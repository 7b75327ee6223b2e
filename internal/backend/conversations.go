// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

const pathConversations = "/ai/conversations"

func conversationPath(id string) string {
	return pathConversations + "/" + url.PathEscape(id)
}

// UpdateConversationRequest is the full-replace body of a conversation write.
// The backend resets an omitted title to the placeholder, so callers send
// the current title with every write.
type UpdateConversationRequest struct {
	Title    string          `json:"title"`
	Messages []model.Message `json:"messages"`
}

// createConversationRequest is the body of a conversation create.
type createConversationRequest struct {
	Title    string          `json:"title"`
	Messages []model.Message `json:"messages"`
}

// titleResponse is the answer of the title generator.
type titleResponse struct {
	Title string `json:"title"`
}

// ListConversations returns every stored conversation.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if _, err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, pathConversations); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Messages == nil {
			out[i].Messages = []model.Message{}
		}
	}
	return out, nil
}

// CreateConversation creates an empty conversation with the given title.
func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultTitle
	}
	body := createConversationRequest{Title: title, Messages: []model.Message{}}

	var out model.Conversation
	if _, err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost, pathConversations); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	return &out, nil
}

// GetConversation fetches one conversation. A missing id matches ErrNotFound.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	if _, err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, conversationPath(id)); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	return &out, nil
}

// UpdateConversation replaces a conversation's title and message list.
func (c *Client) UpdateConversation(ctx context.Context, id string, req UpdateConversationRequest) (*model.Conversation, error) {
	if req.Messages == nil {
		req.Messages = []model.Message{}
	}
	var out model.Conversation
	if _, err := c.do(c.request(ctx).SetBody(req).SetResult(&out), http.MethodPut, conversationPath(id)); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation. Deleting an unknown id succeeds.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.do(c.request(ctx), http.MethodDelete, conversationPath(id))
	return err
}

// GenerateTitle asks the backend to title a conversation from its first
// messages. The backend stores the title as well as returning it.
func (c *Client) GenerateTitle(ctx context.Context, id string) (string, error) {
	var out titleResponse
	_, err := c.do(c.request(ctx).SetResult(&out), http.MethodPost, conversationPath(id)+"/generate-title")
	if err != nil {
		return "", err
	}
	return out.Title, nil
}
