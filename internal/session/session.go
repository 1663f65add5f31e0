// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"strconv"
	"sync"
)

// Storage keys. All session state shares one namespace and is cleared
// together on logout.
const (
	keyToken       = "session.token"
	keyUsername    = "session.username"
	keyConvID      = "session.conversation_id"
	keyFreePrompts = "session.free_prompts_remaining"
)

// Manager mediates all access to the persisted session. Reads come
// from an in-memory mirror; writes go through to the store before the
// mirror is updated, so a crash never leaves disk ahead of memory in a
// way that resurrects a cleared token.
type Manager struct {
	mu    sync.Mutex
	store *Store

	token       string
	username    string
	convID      string
	freePrompts int
	hasPrompts  bool

	onClear []func()
}

// NewManager restores session state from the store.
func NewManager(store *Store) (*Manager, error) {
	m := &Manager{store: store}

	var err error
	if m.token, err = readOrEmpty(store, keyToken); err != nil {
		return nil, err
	}
	if m.username, err = readOrEmpty(store, keyUsername); err != nil {
		return nil, err
	}
	if m.convID, err = readOrEmpty(store, keyConvID); err != nil {
		return nil, err
	}
	raw, err := readOrEmpty(store, keyFreePrompts)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			m.freePrompts = n
			m.hasPrompts = true
		}
	}
	return m, nil
}

func readOrEmpty(store *Store, key string) (string, error) {
	v, err := store.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	return v, err
}

// OnClear registers a callback invoked after the session is cleared.
// Used by the UI to return to the login screen on forced logout.
func (m *Manager) OnClear(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClear = append(m.onClear, fn)
}

// SetToken stores the bearer token. An empty token is equivalent to
// deleting it.
func (m *Manager) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		if err := m.store.Delete(keyToken); err != nil {
			return err
		}
		m.token = ""
		return nil
	}
	if err := m.store.Set(keyToken, token); err != nil {
		return err
	}
	m.token = token
	return nil
}

// Token returns the current bearer token, empty if unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// IsAuthenticated reports whether a token is present.
func (m *Manager) IsAuthenticated() bool {
	return m.Token() != ""
}

// SetUsername stores the logged-in username.
func (m *Manager) SetUsername(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(keyUsername, username); err != nil {
		return err
	}
	m.username = username
	return nil
}

// Username returns the logged-in username, empty if unknown.
func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username
}

// SetActiveConversation stores the conversation id the next query
// targets.
func (m *Manager) SetActiveConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(keyConvID, id); err != nil {
		return err
	}
	m.convID = id
	return nil
}

// ActiveConversation returns the stored conversation id, empty if none.
func (m *Manager) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convID
}

// ClearActiveConversation forgets the stored conversation id.
func (m *Manager) ClearActiveConversation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(keyConvID); err != nil {
		return err
	}
	m.convID = ""
	return nil
}

// SetFreePrompts caches the last-known free-prompt count.
func (m *Manager) SetFreePrompts(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if err := m.store.Set(keyFreePrompts, strconv.Itoa(n)); err != nil {
		return err
	}
	m.freePrompts = n
	m.hasPrompts = true
	return nil
}

// FreePrompts returns the cached free-prompt count and whether one has
// been stored.
func (m *Manager) FreePrompts() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freePrompts, m.hasPrompts
}

// Clear wipes the whole session: token, username, active conversation
// and cached entitlement. A stale conversation id must never survive
// into a different identity.
func (m *Manager) Clear() error {
	m.mu.Lock()
	err := m.store.DeleteAll()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.token = ""
	m.username = ""
	m.convID = ""
	m.freePrompts = 0
	m.hasPrompts = false
	callbacks := make([]func(), len(m.onClear))
	copy(callbacks, m.onClear)
	m.mu.Unlock()

	// Callbacks run outside the lock; they may call back into the
	// manager.
	for _, fn := range callbacks {
		fn()
	}
	return nil
}
