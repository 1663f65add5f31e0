// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package subscribe implements the subscription purchase screen shown
// when a free-tier user runs out of prompts.
package subscribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/ui/styles"
)

// plans in display order.
var plans = []string{api.PlanDaily, api.PlanWeekly, api.PlanMonthly}

// DismissedMsg tells the root model to return to the chat screen.
type DismissedMsg struct{}

// AuthExpiredMsg tells the root model the session died mid-purchase;
// it must tear the session down. No error banner accompanies it.
type AuthExpiredMsg struct{}

// OrderPlacedMsg reports a successfully created payment order.
type OrderPlacedMsg struct {
	PaymentURL string
}

type orderFailedMsg struct {
	err error
}

// Model is the subscription screen.
type Model struct {
	client     *api.Client
	theme      *styles.Theme
	log        zerolog.Logger
	planIdx    int
	phone      textinput.Model
	submitting bool
	spinner    spinner.Model
	paymentURL string
	errMsg     string
	width      int
}

// New creates the subscription screen.
func New(client *api.Client, theme *styles.Theme, log zerolog.Logger) *Model {
	phone := textinput.New()
	phone.Placeholder = "255712345678"
	phone.CharLimit = 12
	phone.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		client:  client,
		theme:   theme,
		log:     log,
		phone:   phone,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Reset clears transient state when the screen is re-entered.
func (m *Model) Reset() {
	m.submitting = false
	m.paymentURL = ""
	m.errMsg = ""
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.submitting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case orderFailedMsg:
		m.submitting = false
		if api.IsAuthExpired(msg.err) {
			// A dead session is not an order problem; no banner, the
			// root model logs the user out
			m.log.Info().Msg("session expired during purchase")
			return m, func() tea.Msg { return AuthExpiredMsg{} }
		}
		m.errMsg = msg.err.Error()
		return m, nil

	case OrderPlacedMsg:
		m.submitting = false
		m.paymentURL = msg.PaymentURL
		return m, nil

	case tea.KeyMsg:
		if m.submitting {
			return m, nil
		}
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return DismissedMsg{} }
		case "left", "up":
			if m.planIdx > 0 {
				m.planIdx--
			}
			return m, nil
		case "right", "down":
			if m.planIdx < len(plans)-1 {
				m.planIdx++
			}
			return m, nil
		case "enter":
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.phone, cmd = m.phone.Update(msg)
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	phone := strings.TrimSpace(m.phone.Value())
	if err := api.ValidatePhone(phone); err != nil {
		m.errMsg = err.Error()
		return m, nil
	}

	m.submitting = true
	m.errMsg = ""

	client := m.client
	plan := plans[m.planIdx]

	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		order, err := client.CreateSubscriptionOrder(context.Background(), plan, phone)
		if err != nil {
			return orderFailedMsg{err: err}
		}
		return OrderPlacedMsg{PaymentURL: order.PaymentURL}
	})
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Out of free prompts - subscribe to continue"))
	b.WriteString("\n\n")

	for i, plan := range plans {
		label := fmt.Sprintf(" %s - TZS %d ", plan, api.PlanPrices[plan])
		if i == m.planIdx {
			b.WriteString(m.theme.Selected.Render(label))
		} else {
			b.WriteString(m.theme.Subtle.Render(label))
		}
		b.WriteString("  ")
	}
	b.WriteString("\n\n")
	b.WriteString("M-Pesa / Tigo Pesa phone number:\n")
	b.WriteString(m.theme.InputBox.Render(m.phone.View()))
	b.WriteString("\n\n")

	switch {
	case m.submitting:
		b.WriteString(m.theme.Subtle.Render(m.spinner.View() + " creating order..."))
	case m.paymentURL != "":
		b.WriteString(m.theme.Success.Render("Complete the payment at:"))
		b.WriteString("\n" + m.paymentURL + "\n")
		b.WriteString(m.theme.Subtle.Render("Press esc to return once paid."))
	case m.errMsg != "":
		b.WriteString(m.theme.Error.Render(m.errMsg))
	}

	b.WriteString("\n\n")
	b.WriteString(m.theme.Subtle.Render("arrows: choose plan  enter: pay  esc: back"))
	return b.String()
}
