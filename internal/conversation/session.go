// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation tracks which backend conversation the next
// query targets, creating one lazily so that opening the app never
// mints an empty conversation.
package conversation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wakilimsomi/wakili-tui/internal/api"
)

// Backend is the slice of the API client this package needs.
type Backend interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	CreateConversation(ctx context.Context, language string) (*api.Conversation, error)
}

// ActiveStore persists the active conversation id across restarts.
// The session manager implements it.
type ActiveStore interface {
	ActiveConversation() string
	SetActiveConversation(id string) error
	ClearActiveConversation() error
}

// Session binds the active-conversation id to the backend. Viewing a
// different conversation elsewhere in the UI does not move the send
// target; only EnsureActive and SetActive do.
type Session struct {
	mu        sync.Mutex
	backend   Backend
	store     ActiveStore
	log       zerolog.Logger
	onCreated []func(id string)
}

// NewSession creates a conversation session.
func NewSession(backend Backend, store ActiveStore, log zerolog.Logger) *Session {
	return &Session{backend: backend, store: store, log: log}
}

// OnCreated registers a listener for newly minted conversation ids, so
// the conversation list can refresh without polling. Listeners run
// outside the session lock.
func (s *Session) OnCreated(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreated = append(s.onCreated, fn)
}

// Active returns the current send target, empty if none.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ActiveConversation()
}

// EnsureActive returns the conversation id the next query should use.
// With no active id it lists existing conversations and reuses the
// most recently updated one; only an empty account gets a fresh
// conversation created.
func (s *Session) EnsureActive(ctx context.Context, language string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.store.ActiveConversation(); id != "" {
		return id, nil
	}

	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		return "", err
	}

	if len(convs) > 0 {
		newest := convs[0]
		for _, c := range convs[1:] {
			if c.UpdatedAt.After(newest.UpdatedAt) ||
				(c.UpdatedAt.Equal(newest.UpdatedAt) && c.ID > newest.ID) {
				newest = c
			}
		}
		if err := s.store.SetActiveConversation(newest.ID); err != nil {
			return "", err
		}
		s.log.Debug().Str("conversation", newest.ID).Msg("reusing existing conversation")
		return newest.ID, nil
	}

	conv, err := s.backend.CreateConversation(ctx, language)
	if err != nil {
		return "", err
	}
	if err := s.store.SetActiveConversation(conv.ID); err != nil {
		return "", err
	}
	s.log.Debug().Str("conversation", conv.ID).Msg("created conversation")
	s.notifyLocked(conv.ID)
	return conv.ID, nil
}

// SetActive records a conversation id as the send target. When the
// stream reports a backend-minted id for this turn, created must be
// true so list listeners hear about it.
func (s *Session) SetActive(id string, created bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SetActiveConversation(id); err != nil {
		return err
	}
	if created {
		s.notifyLocked(id)
	}
	return nil
}

// ClearActive forgets the send target.
func (s *Session) ClearActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ClearActiveConversation()
}

// notifyLocked schedules created listeners outside the lock.
func (s *Session) notifyLocked(id string) {
	listeners := make([]func(string), len(s.onCreated))
	copy(listeners, s.onCreated)
	go func() {
		for _, fn := range listeners {
			fn(id)
		}
	}()
}
