// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the conversation and message types shared by the
// chat screen, the transcript cache, and the streaming pipeline.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wakilimsomi/wakili-tui/internal/util"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. An assistant message under
// construction carries IsStreaming=true and accumulates tokens in a
// builder; Content is only authoritative after FinalizeStream.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Streaming state, not persisted
	IsStreaming   bool `json:"-"`
	streamContent strings.Builder
}

// NewUserMessage creates a completed user message.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewStreamingMessage creates an empty assistant message that will be
// filled token by token.
func NewStreamingMessage() *Message {
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// PERFORMANCE: strings.Builder avoids O(n^2) concatenation while a
// reply streams in token by token.
//
// AppendToken appends a content delta to a streaming message.
// No-op on a finalized message.
func (m *Message) AppendToken(token string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.WriteString(token)
}

// FinalizeStream marks the message complete and moves the accumulated
// stream content into Content.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// GetDisplayContent returns the text to render: the accumulated stream
// for an in-flight message, Content otherwise.
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Preview returns a single-line, width-bounded summary of the message,
// used for conversation titles and the sidebar list.
func (m *Message) Preview(maxWidth int) string {
	content := m.GetDisplayContent()
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	return util.TruncateWidth(strings.TrimSpace(content), maxWidth)
}
