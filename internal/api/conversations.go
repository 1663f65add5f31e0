// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Conversation is the backend's conversation record. Messages is only
// populated by Get.
type Conversation struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Language  string                `json:"language"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Messages  []ConversationMessage `json:"messages,omitempty"`
}

// ConversationMessage is one stored message in a conversation history.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation creates an empty conversation in the given
// language. A response without an id is rejected; the client cannot
// target queries at a conversation it cannot name.
func (c *Client) CreateConversation(ctx context.Context, language string) (*Conversation, error) {
	body := map[string]any{
		"language": language,
		"metadata": map[string]any{},
	}
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("%w: create response missing id", ErrConversationInvalid)
	}
	return &conv, nil
}

// GetConversation fetches one conversation with its message history.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation on the server.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}
