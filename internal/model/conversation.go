// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// Conversation holds an ordered message history for one backend
// conversation id. Message order is insertion order and is preserved
// exactly; the UI and the transcript cache both rely on that.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates an empty conversation. The id may be empty
// until the backend mints one on the first query.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddUserMessage appends a completed user message and returns it.
// The first user message also becomes the conversation title.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	if c.Title == "" {
		c.Title = msg.Preview(60)
	}
	return msg
}

// AddStreamingMessage appends an empty assistant message that will be
// filled by stream deltas, and returns it.
func (c *Conversation) AddStreamingMessage() *Message {
	msg := NewStreamingMessage()
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	return msg
}

// AppendToLast appends a content delta to the trailing message if it is
// a streaming assistant message. Returns false if there is no streaming
// message to append to.
func (c *Conversation) AppendToLast(token string) bool {
	last := c.Last()
	if last == nil || !last.IsStreaming {
		return false
	}
	last.AppendToken(token)
	return true
}

// FinalizeLast completes the trailing streaming message, if any.
func (c *Conversation) FinalizeLast() {
	if last := c.Last(); last != nil && last.IsStreaming {
		last.FinalizeStream()
		c.UpdatedAt = time.Now()
	}
}

// Last returns the trailing message or nil.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// TruncateTo drops messages beyond length n. Used by the send rollback
// path to restore the exact pre-submit message list.
func (c *Conversation) TruncateTo(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(c.Messages) {
		c.Messages = c.Messages[:n]
		c.UpdatedAt = time.Now()
	}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}
