// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/conversation"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/session"
	"github.com/wakilimsomi/wakili-tui/internal/ui/styles"
)

type stubBackend struct{}

func (stubBackend) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	return nil, nil
}

func (stubBackend) CreateConversation(ctx context.Context, language string) (*api.Conversation, error) {
	return &api.Conversation{ID: "conv-stub"}, nil
}

type failingBackend struct{}

func (failingBackend) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	return nil, errors.New("list unavailable")
}

func (failingBackend) CreateConversation(ctx context.Context, language string) (*api.Conversation, error) {
	return nil, errors.New("create unavailable")
}

// queryServer records the last /query body and answers with a single
// completion frame echoing the conversation id.
func queryServer(t *testing.T, got *api.QueryRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode query body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"status":"complete","conversation_id":"` + got.ConversationID + `"}` + "\n"))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestModel(t *testing.T, identity entitlement.Identity) (*Model, *session.Manager) {
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

	tracker := entitlement.NewTracker(identity, sess)
	convSession := conversation.NewSession(stubBackend{}, sess, zerolog.Nop())
	client := api.NewClient("http://unused", api.StaticToken("test-token"), zerolog.Nop())

	m := New(Options{
		Client:      client,
		Session:     sess,
		Tracker:     tracker,
		ConvSession: convSession,
		Theme:       styles.NewTheme(),
		Language:    "en",
		Logger:      zerolog.Nop(),
	})
	m.SetSize(80, 24)
	return m, sess
}

func freeIdentity(prompts int) entitlement.Identity {
	return entitlement.Identity{Username: "asha", Plan: entitlement.PlanFree, FreePromptsRemaining: prompts}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(5))
	m.input.SetValue("   ")

	_, cmd := m.submit()
	if cmd != nil {
		t.Error("blank submit produced a command")
	}
	if m.state != StateIdle {
		t.Errorf("state = %v, want Idle", m.state)
	}
	if m.conv.Len() != 0 {
		t.Error("blank submit appended a message")
	}
}

func TestSubmitRejectsWhenUnauthenticated(t *testing.T) {
	m, sess := newTestModel(t, freeIdentity(5))
	if err := sess.Clear(); err != nil {
		t.Fatal(err)
	}
	m.input.SetValue("question")

	_, cmd := m.submit()
	if cmd != nil || m.conv.Len() != 0 {
		t.Error("unauthenticated submit was not rejected")
	}
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(5))
	m.state = StateStreaming
	m.input.SetValue("second question")

	_, cmd := m.submit()
	if cmd != nil {
		t.Error("busy submit produced a command")
	}
	if m.conv.Len() != 0 {
		t.Error("busy submit appended a message")
	}
}

func TestOptimisticSubmitDecrementsBeforeNetwork(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(1))
	m.input.SetValue("what are tenant rights?")

	_, cmd := m.submit()
	if cmd == nil {
		t.Fatal("valid submit produced no command")
	}
	if m.state != StateSending {
		t.Errorf("state = %v, want Sending", m.state)
	}
	if m.conv.Len() != 1 {
		t.Fatalf("message list len = %d, want optimistic user message", m.conv.Len())
	}
	if got := m.tracker.Identity().FreePromptsRemaining; got != 0 {
		t.Errorf("free prompts = %d, decrement must precede the network call", got)
	}
	if m.input.Value() != "" {
		t.Error("input not cleared on submit")
	}
}

func TestExhaustedSubmitOpensUpgradeFlowWithoutQuery(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(0))
	m.input.SetValue("one more question")

	// The gate path would reconcile against the backend; feed the
	// post-reconcile decision directly.
	updated, cmd := m.handleGate(entitlementGateMsg{allowed: false, text: "one more question"})
	m = updated.(*Model)
	if cmd == nil {
		t.Fatal("blocked submit produced no command")
	}
	msg := cmd()
	if _, ok := msg.(UpgradeRequestedMsg); !ok {
		t.Fatalf("msg = %T, want UpgradeRequestedMsg", msg)
	}
	if m.state != StateIdle {
		t.Errorf("state = %v, want Idle", m.state)
	}
	if m.conv.Len() != 0 {
		t.Error("blocked submit appended a message")
	}
	if m.input.Value() != "one more question" {
		t.Error("input text lost during upgrade detour")
	}
}

func TestStreamEventsAppendInOrder(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(5))
	m.input.SetValue("define negligence")
	m.submit()
	m.state = StateStreaming

	updated, _ := m.handleStreamEvents(streamEventsMsg{events: []api.StreamEvent{
		{Content: "Negligence "},
		{Content: "is a failure "},
		{Content: "of reasonable care."},
	}})
	m = updated.(*Model)

	last := m.conv.Last()
	if last == nil || !last.IsStreaming {
		t.Fatal("no streaming assistant message after content deltas")
	}
	if got := last.GetDisplayContent(); got != "Negligence is a failure of reasonable care." {
		t.Errorf("assistant content = %q", got)
	}
}

func TestStreamCompletionFinalizesAndReturnsToIdle(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(5))
	m.input.SetValue("q")
	m.submit()
	m.state = StateStreaming

	updated, _ := m.handleStreamEvents(streamEventsMsg{events: []api.StreamEvent{
		{Content: "answer"},
		{ConversationID: "conv-minted"},
		{Done: true},
	}})
	m = updated.(*Model)

	if m.state != StateIdle {
		t.Errorf("state = %v, want Idle", m.state)
	}
	if m.conv.Last().IsStreaming {
		t.Error("assistant message not finalized")
	}
	if m.conv.Last().Content != "answer" {
		t.Errorf("content = %q", m.conv.Last().Content)
	}
	if m.conv.ID != "conv-minted" {
		t.Errorf("conversation id = %q, want minted id adopted", m.conv.ID)
	}
}

func TestFailedSendRollsBackExactly(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(3))

	// Seed an earlier exchange
	m.conv.AddUserMessage("old question")
	msg := m.conv.AddStreamingMessage()
	msg.AppendToken("old answer")
	m.conv.FinalizeLast()
	before := m.conv.Len()

	m.input.SetValue("new question")
	m.submit()
	m.state = StateStreaming
	m.handleStreamEvents(streamEventsMsg{events: []api.StreamEvent{{Content: "partial "}}})

	updated, _ := m.handleStreamEvents(streamEventsMsg{events: []api.StreamEvent{
		{Err: &api.APIError{Detail: "inference failed"}},
	}})
	m = updated.(*Model)

	if m.conv.Len() != before {
		t.Errorf("message list len = %d, want pre-submit %d", m.conv.Len(), before)
	}
	if m.conv.Last().Content != "old answer" {
		t.Errorf("trailing message = %q, rollback incomplete", m.conv.Last().Content)
	}
	if m.input.Value() != "new question" {
		t.Errorf("input = %q, want submitted text restored", m.input.Value())
	}
	if m.state != StateIdle {
		t.Errorf("state = %v, want Idle", m.state)
	}
	if m.errMsg != "inference failed" {
		t.Errorf("error slot = %q", m.errMsg)
	}
	if got := m.tracker.Identity().FreePromptsRemaining; got != 3 {
		t.Errorf("free prompts = %d, optimistic decrement not restored", got)
	}
}

func TestAuthExpiredSkipsErrorBannerAndLogsOut(t *testing.T) {
	m, sess := newTestModel(t, freeIdentity(3))
	m.input.SetValue("q")
	m.submit()

	updated, cmd := m.Update(streamFailedMsg{err: api.ErrAuthExpired})
	m = updated.(*Model)

	if m.errMsg != "" {
		t.Errorf("error banner = %q, auth expiry must not show one", m.errMsg)
	}
	if cmd == nil {
		t.Fatal("no logout command issued")
	}
	msg := cmd()
	if _, ok := msg.(AuthExpiredMsg); !ok {
		t.Fatalf("msg = %T, want AuthExpiredMsg", msg)
	}
	if sess.IsAuthenticated() {
		t.Error("token survived forced logout")
	}
	if sess.ActiveConversation() != "" {
		t.Error("active conversation survived forced logout")
	}
}

func TestAuthExpiredRecognizedByMessageText(t *testing.T) {
	m, sess := newTestModel(t, freeIdentity(3))
	m.input.SetValue("q")
	m.submit()

	_, cmd := m.Update(streamFailedMsg{err: errors.New("Authentication expired. Please log in again.")})
	if cmd == nil {
		t.Fatal("no logout command issued")
	}
	cmd()
	if sess.IsAuthenticated() {
		t.Error("token survived forced logout")
	}
}

func TestProtocolViolationRollsBackWithoutAssistantMessage(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(3))
	m.input.SetValue("q")
	m.submit()

	updated, _ := m.Update(streamFailedMsg{err: api.ErrProtocol})
	m = updated.(*Model)

	if m.conv.Len() != 0 {
		t.Errorf("message list len = %d, want 0", m.conv.Len())
	}
	if m.errMsg == "" {
		t.Error("protocol violation produced no user-visible error")
	}
}

func TestStreamCloseWithoutTerminalRollsBack(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(3))
	m.input.SetValue("q")
	m.submit()
	m.state = StateStreaming
	m.handleStreamEvents(streamEventsMsg{events: []api.StreamEvent{{Content: "partial"}}})

	updated, _ := m.handleStreamEvents(streamEventsMsg{closed: true})
	m = updated.(*Model)

	if m.conv.Len() != 0 {
		t.Errorf("message list len = %d, partial answer survived a broken stream", m.conv.Len())
	}
	if m.state != StateIdle {
		t.Errorf("state = %v, want Idle", m.state)
	}
	if m.errMsg == "" {
		t.Error("broken stream produced no user-visible error")
	}
	if m.input.Value() != "q" {
		t.Errorf("input = %q, want submitted text restored", m.input.Value())
	}
	if got := m.tracker.Identity().FreePromptsRemaining; got != 3 {
		t.Errorf("free prompts = %d, optimistic decrement not restored", got)
	}
}

func TestSendEnsuresConversationBeforeQuery(t *testing.T) {
	var got api.QueryRequest
	server := queryServer(t, &got)

	m, sess := newTestModel(t, freeIdentity(5))
	m.client = api.NewClient(server.URL, api.StaticToken("test-token"), zerolog.Nop())

	msg := m.startStreamCmd("what is a contract?")()
	started, ok := msg.(streamStartedMsg)
	if !ok {
		t.Fatalf("msg = %T, want streamStartedMsg", msg)
	}
	defer started.cancel()

	if got.ConversationID != "conv-stub" {
		t.Errorf("query conversation_id = %q, want the ensured conversation", got.ConversationID)
	}
	if started.conversationID != "conv-stub" {
		t.Errorf("started conversation id = %q, want conv-stub", started.conversationID)
	}
	if sess.ActiveConversation() != "conv-stub" {
		t.Errorf("active conversation = %q, ensure result not persisted", sess.ActiveConversation())
	}
}

func TestSendFailsWhenEnsureConversationFails(t *testing.T) {
	m, sess := newTestModel(t, freeIdentity(5))
	m.convSession = conversation.NewSession(failingBackend{}, sess, zerolog.Nop())

	msg := m.startStreamCmd("q")()
	failed, ok := msg.(streamFailedMsg)
	if !ok {
		t.Fatalf("msg = %T, want streamFailedMsg", msg)
	}
	if failed.err == nil || !strings.Contains(failed.err.Error(), "list unavailable") {
		t.Errorf("err = %v, want the ensure failure surfaced", failed.err)
	}
}

func TestLanguageChangeAppliesToNextQuery(t *testing.T) {
	var got api.QueryRequest
	server := queryServer(t, &got)

	m, _ := newTestModel(t, freeIdentity(5))
	m.client = api.NewClient(server.URL, api.StaticToken("test-token"), zerolog.Nop())
	m.Update(LanguageChangedMsg{Language: "sw"})

	msg := m.startStreamCmd("swali la kisheria")()
	started, ok := msg.(streamStartedMsg)
	if !ok {
		t.Fatalf("msg = %T, want streamStartedMsg", msg)
	}
	defer started.cancel()

	if got.Language != "sw" {
		t.Errorf("query language = %q, config reload not applied", got.Language)
	}
}

func TestGateResolutionIgnoredWhileBusy(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(5))
	m.input.SetValue("first question")
	m.submit()
	if m.state != StateSending {
		t.Fatalf("state = %v, want Sending", m.state)
	}
	before := m.conv.Len()

	// A stale gate decision arriving mid-send must not start a second
	// concurrent send
	updated, cmd := m.handleGate(entitlementGateMsg{allowed: true, text: "second question"})
	m = updated.(*Model)
	if cmd != nil {
		t.Error("gate resolution during a send produced a command")
	}
	if m.conv.Len() != before {
		t.Error("gate resolution during a send appended a message")
	}
	if m.state != StateSending {
		t.Errorf("state = %v, want Sending untouched", m.state)
	}
}

func TestDeleteResetsConversation(t *testing.T) {
	m, _ := newTestModel(t, freeIdentity(3))
	m.conv.ID = "conv-1"
	m.conv.AddUserMessage("q")

	updated, _ := m.Update(conversationDeletedMsg{id: "conv-1"})
	m = updated.(*Model)

	if m.conv.ID != "" || m.conv.Len() != 0 {
		t.Errorf("conversation not reset after delete: id=%q len=%d", m.conv.ID, m.conv.Len())
	}
}

var _ tea.Model = (*Model)(nil)
