// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/wakilimsomi/wakili-tui/internal/model"
)

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch m.state {
	case StateSending:
		b.WriteString(m.theme.Subtle.Render(m.spinner.View() + " Wakili is thinking..."))
		b.WriteString("\n")
	case StateStreaming:
		b.WriteString(m.theme.Subtle.Render("streaming..."))
		b.WriteString("\n")
	default:
		switch {
		case m.errMsg != "":
			b.WriteString(m.theme.Error.Render("Error: " + m.errMsg))
			b.WriteString("\n")
		case m.notice != "":
			b.WriteString(m.theme.Warning.Render(m.notice))
			b.WriteString("\n")
		default:
			b.WriteString("\n")
		}
	}

	b.WriteString(m.theme.InputBox.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

// statusLine shows identity and entitlement at a glance.
func (m *Model) statusLine() string {
	id := m.tracker.Identity()

	var entitle string
	if id.Subscribed() {
		entitle = fmt.Sprintf("plan: %s", id.Plan)
		if id.ExpiresAt != nil {
			entitle += " until " + id.ExpiresAt.Format("2006-01-02")
		}
	} else {
		entitle = fmt.Sprintf("free prompts: %d", id.FreePromptsRemaining)
	}

	status := fmt.Sprintf(" %s | %s | enter: send  esc: cancel  ctrl+n: new  ctrl+d: delete ", m.session.Username(), entitle)
	return m.theme.StatusBar.Width(m.width).Render(status)
}

// refreshViewport re-renders the message list and pins the view to the
// bottom while a reply streams.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages() string {
	if m.conv.Len() == 0 {
		return m.theme.Subtle.Render("Karibu! Ask any legal question to get started.")
	}

	var b strings.Builder
	for _, msg := range m.conv.Messages {
		switch msg.Role {
		case model.RoleUser:
			b.WriteString(m.theme.UserMsg.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.GetDisplayContent())
		case model.RoleAssistant:
			b.WriteString(m.theme.Title.Render("Wakili"))
			b.WriteString("\n")
			b.WriteString(m.renderAssistant(msg))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// renderAssistant renders finalized replies as markdown. A message
// still streaming renders raw: re-running glamour on every delta is
// too slow and mid-markdown fragments render badly anyway.
func (m *Model) renderAssistant(msg *model.Message) string {
	if msg.IsStreaming {
		return m.theme.Assistant.Render(msg.GetDisplayContent())
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return m.theme.Assistant.Render(msg.Content)
	}
	out, err := renderer.Render(msg.Content)
	if err != nil {
		return m.theme.Assistant.Render(msg.Content)
	}
	return strings.TrimRight(out, "\n")
}
