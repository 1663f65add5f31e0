// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage caches completed exchanges on disk, one JSON file per
// backend conversation id, so past answers remain readable offline.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wakilimsomi/wakili-tui/internal/model"
	"github.com/wakilimsomi/wakili-tui/internal/util"
)

// ======
// ERRORS
// ======

// TranscriptError wraps storage failures with the conversation id.
type TranscriptError struct {
	ConversationID string
	Op             string
	Err            error
}

func (e *TranscriptError) Error() string {
	return fmt.Sprintf("transcript %s: %s: %v", e.ConversationID, e.Op, e.Err)
}

func (e *TranscriptError) Unwrap() error { return e.Err }

// ErrTranscriptNotFound is returned when no cached transcript exists
// for a conversation id.
var ErrTranscriptNotFound = errors.New("transcript not found")

// ======
// STORE
// ======

// Store reads and writes cached transcripts under a directory.
type Store struct {
	dir string
}

// NewStore creates a transcript store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Meta is a transcript listing entry.
type Meta struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	UpdatedAt      time.Time `json:"updated_at"`
	MessageCount   int       `json:"message_count"`
}

// transcript is the on-disk shape.
type transcript struct {
	ConversationID string           `json:"conversation_id"`
	Title          string           `json:"title"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Messages       []*model.Message `json:"messages"`
}

// Save writes the conversation's completed messages atomically. A
// message still streaming is skipped; the cache only holds finalized
// content.
func (s *Store) Save(conv *model.Conversation) error {
	if conv.ID == "" {
		return &TranscriptError{Op: "save", Err: errors.New("conversation has no id")}
	}

	t := transcript{
		ConversationID: conv.ID,
		Title:          conv.Title,
		UpdatedAt:      conv.UpdatedAt,
	}
	for _, msg := range conv.Messages {
		if msg.IsStreaming {
			continue
		}
		t.Messages = append(t.Messages, msg)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return &TranscriptError{ConversationID: conv.ID, Op: "save", Err: err}
	}
	if err := util.AtomicWriteFile(s.path(conv.ID), data, 0600); err != nil {
		return &TranscriptError{ConversationID: conv.ID, Op: "save", Err: err}
	}
	return nil
}

// Load reads a cached transcript into a conversation.
func (s *Store) Load(conversationID string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.path(conversationID))
	if os.IsNotExist(err) {
		return nil, &TranscriptError{ConversationID: conversationID, Op: "load", Err: ErrTranscriptNotFound}
	}
	if err != nil {
		return nil, &TranscriptError{ConversationID: conversationID, Op: "load", Err: err}
	}

	var t transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &TranscriptError{ConversationID: conversationID, Op: "load", Err: err}
	}

	conv := model.NewConversation(t.ConversationID)
	conv.Title = t.Title
	conv.UpdatedAt = t.UpdatedAt
	conv.Messages = t.Messages
	return conv, nil
}

// List returns metadata for all cached transcripts, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var t transcript
		if err := json.Unmarshal(data, &t); err != nil {
			// A corrupt cache file is not worth failing the listing for
			continue
		}
		metas = append(metas, Meta{
			ConversationID: t.ConversationID,
			Title:          t.Title,
			UpdatedAt:      t.UpdatedAt,
			MessageCount:   len(t.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes a cached transcript. Missing files are not an error;
// the server-side delete already succeeded.
func (s *Store) Delete(conversationID string) error {
	err := os.Remove(s.path(conversationID))
	if err != nil && !os.IsNotExist(err) {
		return &TranscriptError{ConversationID: conversationID, Op: "delete", Err: err}
	}
	return nil
}

// path maps a conversation id to its cache file, sanitizing separators
// so a hostile id cannot escape the cache directory.
func (s *Store) path(conversationID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', ':':
			return '_'
		}
		return r
	}, conversationID)
	return filepath.Join(s.dir, safe+".json")
}
