// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"testing"

	"github.com/wakilimsomi/wakili-tui/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	conv := model.NewConversation("conv-1")
	conv.AddUserMessage("what is a lease agreement?")
	msg := conv.AddStreamingMessage()
	msg.AppendToken("A lease agreement is a contract.")
	conv.FinalizeLast()

	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded %d messages, want 2", loaded.Len())
	}
	if loaded.Messages[1].Content != "A lease agreement is a contract." {
		t.Errorf("assistant content = %q", loaded.Messages[1].Content)
	}
	if loaded.Messages[0].Role != model.RoleUser {
		t.Errorf("first role = %q", loaded.Messages[0].Role)
	}
}

func TestSaveSkipsStreamingMessages(t *testing.T) {
	store := newTestStore(t)

	conv := model.NewConversation("conv-2")
	conv.AddUserMessage("question")
	conv.AddStreamingMessage().AppendToken("half an ans")

	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load("conv-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("loaded %d messages, streaming message should be skipped", loaded.Len())
	}
}

func TestLoadMissingTranscript(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("conv-none")
	if !errors.Is(err, ErrTranscriptNotFound) {
		t.Fatalf("err = %v, want ErrTranscriptNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	conv := model.NewConversation("conv-3")
	conv.AddUserMessage("q")
	if err := store.Save(conv); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("conv-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete("conv-3"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	older := model.NewConversation("conv-a")
	older.AddUserMessage("first")
	if err := store.Save(older); err != nil {
		t.Fatal(err)
	}

	newer := model.NewConversation("conv-b")
	newer.AddUserMessage("second")
	newer.UpdatedAt = older.UpdatedAt.Add(1)
	if err := store.Save(newer); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("listed %d transcripts", len(metas))
	}
	if metas[0].ConversationID != "conv-b" {
		t.Errorf("first listed = %s, want conv-b", metas[0].ConversationID)
	}
}

func TestPathSanitizesHostileIDs(t *testing.T) {
	store := newTestStore(t)

	conv := model.NewConversation("../../etc/passwd")
	conv.AddUserMessage("q")
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// The write must land inside the store directory
	metas, err := store.List()
	if err != nil || len(metas) != 1 {
		t.Fatalf("List: %v (%d entries)", err, len(metas))
	}
}
