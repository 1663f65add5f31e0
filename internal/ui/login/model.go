// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package login implements the login/signup screen.
package login

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/ui/styles"
)

// Mode selects between signing in and creating an account.
type Mode int

const (
	ModeLogin Mode = iota
	ModeSignup
)

// LoggedInMsg tells the root model authentication succeeded.
type LoggedInMsg struct {
	Token    string
	Username string
}

type authFailedMsg struct {
	err error
}

// Model is the login screen.
type Model struct {
	mode       Mode
	client     *api.Client
	theme      *styles.Theme
	log        zerolog.Logger
	username   textinput.Model
	password   textinput.Model
	focusIdx   int
	submitting bool
	spinner    spinner.Model
	errMsg     string
	width      int
	height     int
}

// New creates the login screen.
func New(client *api.Client, theme *styles.Theme, log zerolog.Logger) *Model {
	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 64
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.CharLimit = 128
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		mode:     ModeLogin,
		client:   client,
		theme:    theme,
		log:      log,
		username: username,
		password: password,
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Reset clears the form, e.g. after a forced logout.
func (m *Model) Reset() {
	m.username.SetValue("")
	m.password.SetValue("")
	m.errMsg = ""
	m.submitting = false
	m.focusIdx = 0
	m.username.Focus()
	m.password.Blur()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.submitting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case authFailedMsg:
		m.submitting = false
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		if m.submitting {
			return m, nil
		}
		switch msg.String() {
		case "tab", "shift+tab", "up", "down":
			m.toggleFocus()
			return m, nil
		case "ctrl+s":
			if m.mode == ModeLogin {
				m.mode = ModeSignup
			} else {
				m.mode = ModeLogin
			}
			m.errMsg = ""
			return m, nil
		case "enter":
			return m.submit()
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.username, cmd = m.username.Update(msg)
	cmds = append(cmds, cmd)
	m.password, cmd = m.password.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) toggleFocus() {
	m.focusIdx = (m.focusIdx + 1) % 2
	if m.focusIdx == 0 {
		m.username.Focus()
		m.password.Blur()
	} else {
		m.username.Blur()
		m.password.Focus()
	}
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	username := strings.TrimSpace(m.username.Value())
	password := m.password.Value()
	if username == "" || password == "" {
		m.errMsg = "Username and password are required."
		return m, nil
	}

	m.submitting = true
	m.errMsg = ""

	client := m.client
	signup := m.mode == ModeSignup

	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx := context.Background()
		if signup {
			if err := client.Register(ctx, username, password); err != nil {
				return authFailedMsg{err: err}
			}
		}
		token, err := client.Login(ctx, username, password)
		if err != nil {
			return authFailedMsg{err: err}
		}
		return LoggedInMsg{Token: token, Username: username}
	})
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	title := "Wakili Msomi - Sign in"
	hint := "ctrl+s: create an account instead"
	if m.mode == ModeSignup {
		title = "Wakili Msomi - Create account"
		hint = "ctrl+s: sign in instead"
	}

	b.WriteString(m.theme.Title.Render(title))
	b.WriteString("\n\n")
	b.WriteString(m.theme.InputBox.Render(m.username.View()))
	b.WriteString("\n")
	b.WriteString(m.theme.InputBox.Render(m.password.View()))
	b.WriteString("\n\n")

	if m.submitting {
		b.WriteString(m.theme.Subtle.Render(m.spinner.View() + " signing in..."))
	} else if m.errMsg != "" {
		b.WriteString(m.theme.Error.Render(m.errMsg))
	}
	b.WriteString("\n\n")
	b.WriteString(m.theme.Subtle.Render("enter: submit  tab: next field  " + hint))
	return b.String()
}
