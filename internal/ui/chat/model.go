// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/conversation"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/model"
	"github.com/wakilimsomi/wakili-tui/internal/session"
	"github.com/wakilimsomi/wakili-tui/internal/storage"
	"github.com/wakilimsomi/wakili-tui/internal/ui/styles"
)

// ======
// STATE MACHINE
// ======

// State is the send/receive phase of the chat screen.
type State int

const (
	// StateIdle accepts input.
	StateIdle State = iota
	// StateSending covers the window between submit and the first
	// frame: the request is open, the typing indicator shows.
	StateSending
	// StateStreaming means deltas are arriving.
	StateStreaming
)

// The busy states are the exclusion lock: a second submit is rejected
// at the boundary, never queued against the transport.
func (s State) busy() bool { return s != StateIdle }

// Model is the chat screen. It owns the message list and the active
// conversation id; no other component mutates them.
type Model struct {
	state State

	client      *api.Client
	session     *session.Manager
	tracker     *entitlement.Tracker
	convSession *conversation.Session
	transcripts *storage.Store
	theme       *styles.Theme
	log         zerolog.Logger

	conv     *model.Conversation
	language string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// limiter spaces rapid submits; the entitlement tracker, not the
	// limiter, owns quota.
	limiter *rate.Limiter

	// In-flight stream state
	events      <-chan api.StreamEvent
	cancel      context.CancelFunc
	answerOpen  bool
	mintedConv  string
	convCreated bool

	// Rollback state captured at submit
	preSubmitLen  int
	submittedText string

	errMsg string
	notice string

	width  int
	height int
	ready  bool
}

// Options carries the collaborators the chat screen composes.
type Options struct {
	Client      *api.Client
	Session     *session.Manager
	Tracker     *entitlement.Tracker
	ConvSession *conversation.Session
	Transcripts *storage.Store
	Theme       *styles.Theme
	Language    string
	Logger      zerolog.Logger
}

// New creates the chat screen.
func New(opts Options) *Model {
	input := textinput.New()
	input.Placeholder = "Ask a legal question..."
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		state:       StateIdle,
		client:      opts.Client,
		session:     opts.Session,
		tracker:     opts.Tracker,
		convSession: opts.ConvSession,
		transcripts: opts.Transcripts,
		theme:       opts.Theme,
		language:    opts.Language,
		log:         opts.Logger,
		conv:        model.NewConversation(opts.Session.ActiveConversation()),
		input:       input,
		spinner:     sp,
		limiter:     rate.NewLimiter(rate.Limit(1), 2),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// CurrentState returns the send/receive phase. Exposed for the root
// model's status rendering.
func (m *Model) CurrentState() State { return m.state }

// Conversation returns the message list for read-only rendering.
func (m *Model) Conversation() *model.Conversation { return m.conv }

// SetSize propagates terminal dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	inputHeight := 3
	statusHeight := 2
	vpHeight := height - inputHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.refreshViewport()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			return m.submit()
		case "esc":
			if m.state.busy() {
				return m.abortStream()
			}
			m.errMsg = ""
			m.notice = ""
			return m, nil
		case "ctrl+n":
			if !m.state.busy() {
				return m.newConversation()
			}
			return m, nil
		case "ctrl+d":
			if !m.state.busy() && m.conv.ID != "" {
				return m, m.deleteConversationCmd()
			}
			return m, nil
		}

	case spinner.TickMsg:
		if m.state == StateSending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case entitlementGateMsg:
		return m.handleGate(msg)

	case streamStartedMsg:
		m.state = StateStreaming
		m.events = msg.events
		m.cancel = msg.cancel
		if m.conv.ID == "" {
			// The send path ensured a conversation before querying
			m.conv.ID = msg.conversationID
		}
		return m, readEventsCmd(m.events)

	case LanguageChangedMsg:
		if msg.Language != "" {
			m.language = msg.Language
		}
		return m, nil

	case streamFailedMsg:
		return m.failSend(msg.err)

	case streamEventsMsg:
		return m.handleStreamEvents(msg)

	case reconciledMsg:
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Msg("entitlement reconcile failed")
		}
		return m, nil

	case transcriptSavedMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Msg("transcript save failed")
		}
		return m, nil

	case conversationDeletedMsg:
		return m.handleDeleted(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ======
// SUBMIT PATH
// ======

// submit runs the guards and either starts a send, opens the upgrade
// flow, or rejects with no state change.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if !m.session.IsAuthenticated() {
		return m, nil
	}
	if m.state.busy() {
		return m, nil
	}
	if !m.limiter.Allow() {
		m.notice = "Sending too quickly, give it a second."
		return m, nil
	}

	if !m.tracker.CanSend() {
		// Best-effort reconcile before giving up: the server may know
		// about a subscription the local state missed.
		return m, m.gateCmd(text)
	}

	return m.beginSend(text)
}

// beginSend applies the optimistic mutations and opens the stream.
func (m *Model) beginSend(text string) (tea.Model, tea.Cmd) {
	m.errMsg = ""
	m.notice = ""
	m.preSubmitLen = m.conv.Len()
	m.submittedText = text
	m.answerOpen = false
	m.mintedConv = ""
	m.convCreated = false

	m.conv.AddUserMessage(text)
	m.tracker.DecrementLocal()
	m.input.Reset()
	m.state = StateSending
	m.refreshViewport()

	return m, tea.Batch(m.spinner.Tick, m.startStreamCmd(text))
}

// handleGate resumes a submit that was blocked on entitlement.
func (m *Model) handleGate(msg entitlementGateMsg) (tea.Model, tea.Cmd) {
	// The model stays Idle while the gate reconcile is in flight, so a
	// repeated enter can race a second gate through; only the first
	// resolution may start a send.
	if m.state.busy() {
		return m, nil
	}
	if msg.allowed {
		return m.beginSend(msg.text)
	}
	// Not an error: a distinct UI state. The input keeps its text so
	// the question survives the upgrade detour.
	m.input.SetValue(msg.text)
	return m, func() tea.Msg {
		return UpgradeRequestedMsg{Identity: m.tracker.Identity()}
	}
}

// ======
// STREAM EVENTS
// ======

func (m *Model) handleStreamEvents(msg streamEventsMsg) (tea.Model, tea.Cmd) {
	for _, ev := range msg.events {
		switch {
		case ev.Err != nil:
			return m.failSend(ev.Err)

		case ev.Done:
			return m.completeSend()

		case ev.ConversationID != "":
			m.mintedConv = ev.ConversationID
			m.convCreated = m.conv.ID == ""

		case ev.Content != "":
			// First content ends the typing-indicator phase
			if !m.answerOpen {
				m.conv.AddStreamingMessage()
				m.answerOpen = true
			}
			m.conv.AppendToLast(ev.Content)
		}
	}
	m.refreshViewport()

	if msg.closed {
		// A stream that closes without a terminal event is broken, not
		// complete: treating it as success would keep a partial answer
		// and burn the prompt.
		return m.failSend(fmt.Errorf("%w: stream closed without completion", api.ErrProtocol))
	}
	return m, readEventsCmd(m.events)
}

// completeSend finalizes a successful exchange.
func (m *Model) completeSend() (tea.Model, tea.Cmd) {
	m.releaseStream()
	m.conv.FinalizeLast()
	m.tracker.ConfirmSend()
	m.state = StateIdle
	m.refreshViewport()

	var cmds []tea.Cmd

	if m.mintedConv != "" {
		created := m.convCreated
		id := m.mintedConv
		m.conv.ID = id
		cmds = append(cmds, func() tea.Msg {
			if err := m.convSession.SetActive(id, created); err != nil {
				m.log.Warn().Err(err).Msg("failed to persist conversation id")
			}
			if created {
				return ConversationCreatedMsg{ID: id}
			}
			return nil
		})
	}

	if m.transcripts != nil && m.conv.ID != "" {
		cmds = append(cmds, m.saveTranscriptCmd())
	}

	// Free-tier counts drift between client and server during a
	// streamed exchange; pull the authoritative value back.
	if !m.tracker.Identity().Subscribed() {
		cmds = append(cmds, m.reconcileCmd())
	}

	return m, tea.Batch(cmds...)
}

// ======
// FAILURE AND ROLLBACK
// ======

// failSend rolls the optimistic mutations back: the message list
// returns to its exact pre-submit contents and the input gets the
// submitted text so the user can retry.
func (m *Model) failSend(err error) (tea.Model, tea.Cmd) {
	m.releaseStream()
	m.conv.TruncateTo(m.preSubmitLen)
	m.tracker.Restore()
	m.input.SetValue(m.submittedText)
	m.state = StateIdle
	m.refreshViewport()

	if api.IsAuthExpired(err) {
		// Dead session: no error banner, straight to logout
		m.log.Info().Msg("session expired, logging out")
		return m, m.logoutCmd()
	}

	m.errMsg = err.Error()
	m.log.Debug().Err(err).Msg("send failed")
	return m, nil
}

// abortStream cancels an in-flight send on user request. The
// cancellation surfaces as a stream error, which runs the normal
// rollback.
func (m *Model) abortStream() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	return m, nil
}

// releaseStream drops the in-flight stream resources.
func (m *Model) releaseStream() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil
}

// ======
// CONVERSATION MANAGEMENT
// ======

// newConversation detaches from the active conversation. The next
// query creates a fresh one lazily; nothing is minted here.
func (m *Model) newConversation() (tea.Model, tea.Cmd) {
	m.conv = model.NewConversation("")
	m.errMsg = ""
	m.notice = "New conversation. The next question starts it."
	m.refreshViewport()

	convSession := m.convSession
	return m, func() tea.Msg {
		if err := convSession.ClearActive(); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear active conversation")
		}
		return nil
	}
}

// handleDeleted finishes a conversation delete.
func (m *Model) handleDeleted(msg conversationDeletedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if api.IsAuthExpired(msg.err) {
			return m, m.logoutCmd()
		}
		m.errMsg = msg.err.Error()
		return m, nil
	}
	m.conv = model.NewConversation("")
	m.notice = "Conversation deleted."
	m.refreshViewport()
	return m, nil
}

// Logout tears the session down from outside, e.g. the quit menu.
func (m *Model) Logout() tea.Cmd {
	return m.logoutCmd()
}
