// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	if err := store.Set("k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := store.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v2" {
		t.Errorf("Get = %q, want v2", got)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get missing = %v, want ErrKeyNotFound", err)
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	store, path := openTestStore(t)

	mgr, err := NewManager(store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.SetToken("tok-abc"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.SetUsername("asha"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.SetActiveConversation("conv-9"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.SetFreePrompts(3); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	mgr2, err := NewManager(reopened)
	if err != nil {
		t.Fatalf("NewManager after reopen: %v", err)
	}
	if mgr2.Token() != "tok-abc" {
		t.Errorf("token = %q", mgr2.Token())
	}
	if mgr2.Username() != "asha" {
		t.Errorf("username = %q", mgr2.Username())
	}
	if mgr2.ActiveConversation() != "conv-9" {
		t.Errorf("conversation = %q", mgr2.ActiveConversation())
	}
	if n, ok := mgr2.FreePrompts(); !ok || n != 3 {
		t.Errorf("free prompts = %d, %v", n, ok)
	}
}

func TestClearWipesEverythingAndNotifies(t *testing.T) {
	store, _ := openTestStore(t)
	mgr, err := NewManager(store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.SetToken("tok")
	mgr.SetActiveConversation("conv-1")
	mgr.SetFreePrompts(2)

	notified := false
	mgr.OnClear(func() { notified = true })

	if err := mgr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if mgr.IsAuthenticated() {
		t.Error("still authenticated after Clear")
	}
	if mgr.ActiveConversation() != "" {
		t.Error("conversation id survived Clear")
	}
	if _, ok := mgr.FreePrompts(); ok {
		t.Error("free-prompt cache survived Clear")
	}
	if !notified {
		t.Error("OnClear callback not invoked")
	}

	if _, err := store.Get("session.token"); !errors.Is(err, ErrKeyNotFound) {
		t.Error("token still present on disk after Clear")
	}
}

func TestClampNegativeFreePrompts(t *testing.T) {
	store, _ := openTestStore(t)
	mgr, err := NewManager(store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.SetFreePrompts(-5); err != nil {
		t.Fatal(err)
	}
	if n, _ := mgr.FreePrompts(); n != 0 {
		t.Errorf("free prompts = %d, want 0", n)
	}
}
