// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui holds the root bubbletea model that routes between the
// login, chat, and subscription screens.
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/conversation"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/session"
	"github.com/wakilimsomi/wakili-tui/internal/storage"
	"github.com/wakilimsomi/wakili-tui/internal/ui/chat"
	"github.com/wakilimsomi/wakili-tui/internal/ui/login"
	"github.com/wakilimsomi/wakili-tui/internal/ui/styles"
	"github.com/wakilimsomi/wakili-tui/internal/ui/subscribe"
)

type screen int

const (
	screenLogin screen = iota
	screenChat
	screenSubscribe
)

type profileLoadedMsg struct {
	identity entitlement.Identity
}

type profileFailedMsg struct {
	err error
}

// App is the root model.
type App struct {
	screen screen

	client      *api.Client
	session     *session.Manager
	tracker     *entitlement.Tracker
	convSession *conversation.Session
	log         zerolog.Logger

	loginScreen     *login.Model
	chatScreen      *chat.Model
	subscribeScreen *subscribe.Model

	width  int
	height int
}

// Options carries the application-root dependencies.
type Options struct {
	Client      *api.Client
	Session     *session.Manager
	Tracker     *entitlement.Tracker
	ConvSession *conversation.Session
	Transcripts *storage.Store
	Language    string
	Logger      zerolog.Logger
}

// NewApp wires the screens.
func NewApp(opts Options) *App {
	theme := styles.NewTheme()

	app := &App{
		client:      opts.Client,
		session:     opts.Session,
		tracker:     opts.Tracker,
		convSession: opts.ConvSession,
		log:         opts.Logger,
		loginScreen: login.New(opts.Client, theme, opts.Logger),
		chatScreen: chat.New(chat.Options{
			Client:      opts.Client,
			Session:     opts.Session,
			Tracker:     opts.Tracker,
			ConvSession: opts.ConvSession,
			Transcripts: opts.Transcripts,
			Theme:       theme,
			Language:    opts.Language,
			Logger:      opts.Logger,
		}),
		subscribeScreen: subscribe.New(opts.Client, theme, opts.Logger),
	}

	if opts.Session.IsAuthenticated() {
		app.screen = screenChat
	} else {
		app.screen = screenLogin
	}
	return app
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{
		a.loginScreen.Init(),
		a.chatScreen.Init(),
		a.subscribeScreen.Init(),
	}
	// A restored session still needs its identity refreshed
	if a.screen == screenChat {
		cmds = append(cmds, a.loadProfileCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		// Every screen needs dimensions, not just the visible one
		a.loginScreen.Update(msg)
		a.chatScreen.Update(msg)
		a.subscribeScreen.Update(msg)
		return a, nil

	case login.LoggedInMsg:
		if err := a.session.SetToken(msg.Token); err != nil {
			a.log.Error().Err(err).Msg("failed to persist token")
		}
		if err := a.session.SetUsername(msg.Username); err != nil {
			a.log.Error().Err(err).Msg("failed to persist username")
		}
		a.screen = screenChat
		return a, a.loadProfileCmd()

	case profileLoadedMsg:
		a.tracker.SetIdentity(msg.identity)
		return a, nil

	case profileFailedMsg:
		if api.IsAuthExpired(msg.err) {
			return a.forceLogout()
		}
		// Keep the last-known identity; the chat screen still gates on it
		a.log.Warn().Err(msg.err).Msg("profile refresh failed")
		return a, nil

	case chat.AuthExpiredMsg:
		return a.forceLogout()

	case chat.UpgradeRequestedMsg:
		a.subscribeScreen.Reset()
		a.screen = screenSubscribe
		return a, nil

	case chat.ConversationCreatedMsg:
		a.log.Debug().Str("conversation", msg.ID).Msg("conversation created")
		return a, nil

	case subscribe.DismissedMsg:
		a.screen = screenChat
		// The payment may have landed while the screen was open
		return a, a.loadProfileCmd()

	case subscribe.AuthExpiredMsg:
		return a.forceLogout()

	case chat.LanguageChangedMsg:
		// The chat screen needs this even while another screen is up
		a.chatScreen.Update(msg)
		return a, nil
	}

	return a.routeToScreen(msg)
}

func (a *App) routeToScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.screen {
	case screenLogin:
		_, cmd = a.loginScreen.Update(msg)
	case screenChat:
		_, cmd = a.chatScreen.Update(msg)
	case screenSubscribe:
		_, cmd = a.subscribeScreen.Update(msg)
	}
	return a, cmd
}

// forceLogout tears the session down after an expired-auth signal from
// any screen: token, active conversation, and tracked identity are all
// cleared before the login screen appears.
func (a *App) forceLogout() (tea.Model, tea.Cmd) {
	a.tracker.SetIdentity(entitlement.Identity{Plan: entitlement.PlanFree})
	if err := a.session.Clear(); err != nil {
		a.log.Warn().Err(err).Msg("session clear failed")
	}
	a.loginScreen.Reset()
	a.screen = screenLogin
	return a, nil
}

// loadProfileCmd fetches the profile and entitlement snapshot after
// authentication.
func (a *App) loadProfileCmd() tea.Cmd {
	client := a.client

	return func() tea.Msg {
		ctx := context.Background()
		profile, err := client.Me(ctx)
		if err != nil {
			return profileFailedMsg{err: err}
		}

		identity := entitlement.Identity{
			Username:             profile.Username,
			Plan:                 entitlement.Plan(profile.SubscriptionStatus),
			FreePromptsRemaining: profile.FreePromptsRemaining,
		}
		if identity.Plan == "" {
			identity.Plan = entitlement.PlanFree
		}

		// The status endpoint is authoritative for counts; prefer it
		// when reachable.
		if status, err := client.FreeMessagesStatus(ctx); err == nil {
			if status.Subscription.HasSubscription {
				identity.Plan = entitlement.Plan(status.Subscription.Plan)
			} else {
				identity.Plan = entitlement.PlanFree
				identity.FreePromptsRemaining = status.FreeMessagesRemaining
			}
		}
		return profileLoadedMsg{identity: identity}
	}
}

// View implements tea.Model.
func (a *App) View() string {
	switch a.screen {
	case screenLogin:
		return a.loginScreen.View()
	case screenSubscribe:
		return a.subscribeScreen.View()
	default:
		return a.chatScreen.View()
	}
}
