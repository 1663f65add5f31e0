// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
)

type fakeBackend struct {
	conversations []api.Conversation
	listCalls     int
	createCalls   int
	createdID     string
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	f.listCalls++
	return f.conversations, nil
}

func (f *fakeBackend) CreateConversation(ctx context.Context, language string) (*api.Conversation, error) {
	f.createCalls++
	return &api.Conversation{ID: f.createdID, Language: language}, nil
}

type memStore struct {
	id string
}

func (m *memStore) ActiveConversation() string           { return m.id }
func (m *memStore) SetActiveConversation(id string) error { m.id = id; return nil }
func (m *memStore) ClearActiveConversation() error        { m.id = ""; return nil }

func TestEnsureActiveReusesStoredID(t *testing.T) {
	backend := &fakeBackend{}
	sess := NewSession(backend, &memStore{id: "conv-stored"}, zerolog.Nop())

	id, err := sess.EnsureActive(context.Background(), "en")
	if err != nil {
		t.Fatalf("EnsureActive: %v", err)
	}
	if id != "conv-stored" {
		t.Errorf("id = %q", id)
	}
	if backend.listCalls != 0 || backend.createCalls != 0 {
		t.Error("backend contacted despite stored active id")
	}
}

func TestEnsureActivePicksNewestExisting(t *testing.T) {
	now := time.Now()
	backend := &fakeBackend{conversations: []api.Conversation{
		{ID: "conv-old", UpdatedAt: now.Add(-time.Hour)},
		{ID: "conv-new", UpdatedAt: now},
		{ID: "conv-mid", UpdatedAt: now.Add(-time.Minute)},
	}}
	store := &memStore{}
	sess := NewSession(backend, store, zerolog.Nop())

	id, err := sess.EnsureActive(context.Background(), "en")
	if err != nil {
		t.Fatalf("EnsureActive: %v", err)
	}
	if id != "conv-new" {
		t.Errorf("id = %q, want conv-new", id)
	}
	if backend.createCalls != 0 {
		t.Error("created a conversation while some already existed")
	}
	if store.id != "conv-new" {
		t.Error("active id not persisted")
	}
}

func TestEnsureActiveCreatesOnEmptyAccountAndNotifies(t *testing.T) {
	backend := &fakeBackend{createdID: "conv-fresh"}
	sess := NewSession(backend, &memStore{}, zerolog.Nop())

	created := make(chan string, 1)
	sess.OnCreated(func(id string) { created <- id })

	id, err := sess.EnsureActive(context.Background(), "sw")
	if err != nil {
		t.Fatalf("EnsureActive: %v", err)
	}
	if id != "conv-fresh" {
		t.Errorf("id = %q", id)
	}

	select {
	case got := <-created:
		if got != "conv-fresh" {
			t.Errorf("notified id = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("created listener never notified")
	}
}

func TestSetActiveNotifiesOnlyWhenCreated(t *testing.T) {
	sess := NewSession(&fakeBackend{}, &memStore{}, zerolog.Nop())

	notifications := make(chan string, 2)
	sess.OnCreated(func(id string) { notifications <- id })

	if err := sess.SetActive("conv-existing", false); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetActive("conv-minted", true); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-notifications:
		if got != "conv-minted" {
			t.Errorf("notified id = %q, want conv-minted", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("minted id never notified")
	}

	select {
	case got := <-notifications:
		t.Errorf("unexpected second notification %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}
