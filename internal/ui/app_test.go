// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/conversation"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/session"
	"github.com/wakilimsomi/wakili-tui/internal/ui/subscribe"
)

func newTestApp(t *testing.T) (*App, *session.Manager) {
	t.Helper()

	store, err := session.OpenStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sess, err := session.NewManager(store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := sess.SetToken("test-token"); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetUsername("asha"); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetActiveConversation("conv-1"); err != nil {
		t.Fatal(err)
	}

	client := api.NewClient("http://unused", sess, zerolog.Nop())
	tracker := entitlement.NewTracker(entitlement.Identity{
		Username:             "asha",
		Plan:                 entitlement.PlanFree,
		FreePromptsRemaining: 2,
	}, sess)

	app := NewApp(Options{
		Client:      client,
		Session:     sess,
		Tracker:     tracker,
		ConvSession: conversation.NewSession(client, sess, zerolog.Nop()),
		Language:    "en",
		Logger:      zerolog.Nop(),
	})
	return app, sess
}

func assertLoggedOut(t *testing.T, app *App, sess *session.Manager) {
	t.Helper()
	if app.screen != screenLogin {
		t.Errorf("screen = %v, want login", app.screen)
	}
	if sess.IsAuthenticated() {
		t.Error("token survived forced logout")
	}
	if sess.ActiveConversation() != "" {
		t.Error("active conversation survived forced logout")
	}
	id := app.tracker.Identity()
	if id.Username != "" || id.Subscribed() {
		t.Errorf("identity not cleared: %+v", id)
	}
}

func TestProfileAuthExpiryTearsSessionDown(t *testing.T) {
	app, sess := newTestApp(t)

	updated, _ := app.Update(profileFailedMsg{err: api.ErrAuthExpired})
	app = updated.(*App)

	assertLoggedOut(t, app, sess)
}

func TestSubscribeAuthExpiryTearsSessionDown(t *testing.T) {
	app, sess := newTestApp(t)
	app.screen = screenSubscribe

	updated, _ := app.Update(subscribe.AuthExpiredMsg{})
	app = updated.(*App)

	assertLoggedOut(t, app, sess)
}

func TestProfileTransientFailureKeepsSession(t *testing.T) {
	app, sess := newTestApp(t)

	updated, _ := app.Update(profileFailedMsg{err: errors.New("connection timed out")})
	app = updated.(*App)

	if app.screen != screenChat {
		t.Errorf("screen = %v, want chat", app.screen)
	}
	if !sess.IsAuthenticated() {
		t.Error("transient profile failure dropped the session")
	}
	if got := app.tracker.Identity().Username; got != "asha" {
		t.Errorf("identity username = %q, last-known identity must survive", got)
	}
}
