// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/model"
)

// startStreamCmd ensures a conversation exists and opens the streaming
// query. Everything here runs off the UI goroutine; results come back
// as messages.
func (m *Model) startStreamCmd(text string) tea.Cmd {
	// Capture before the goroutine: the model must not be read
	// concurrently with Update.
	client := m.client
	convSession := m.convSession
	language := m.language
	convID := m.conv.ID

	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())

		// A conversation must exist before the query: reuse the stored
		// or newest one, create only on an empty account.
		if convID == "" {
			id, err := convSession.EnsureActive(ctx, language)
			if err != nil {
				cancel()
				return streamFailedMsg{err: err}
			}
			convID = id
		}

		events, err := client.Query(ctx, api.QueryRequest{
			Query:          text,
			ConversationID: convID,
			Language:       language,
			Stream:         true,
		})
		if err != nil {
			cancel()
			return streamFailedMsg{err: err}
		}
		return streamStartedMsg{events: events, cancel: cancel, conversationID: convID}
	}
}

// gateCmd reconciles entitlement and reports whether the blocked
// submit may proceed.
func (m *Model) gateCmd(text string) tea.Cmd {
	tracker := m.tracker
	client := m.client

	return func() tea.Msg {
		_ = tracker.Reconcile(context.Background(), func(ctx context.Context) (entitlement.Snapshot, error) {
			return fetchSnapshot(ctx, client)
		})
		return entitlementGateMsg{allowed: tracker.CanSend(), text: text}
	}
}

// reconcileCmd refreshes the entitlement snapshot in the background.
func (m *Model) reconcileCmd() tea.Cmd {
	tracker := m.tracker
	client := m.client

	return func() tea.Msg {
		err := tracker.Reconcile(context.Background(), func(ctx context.Context) (entitlement.Snapshot, error) {
			return fetchSnapshot(ctx, client)
		})
		return reconciledMsg{err: err}
	}
}

// fetchSnapshot adapts the wire status to the tracker's snapshot.
func fetchSnapshot(ctx context.Context, client *api.Client) (entitlement.Snapshot, error) {
	status, err := client.FreeMessagesStatus(ctx)
	if err != nil {
		return entitlement.Snapshot{}, err
	}
	snap := entitlement.Snapshot{
		HasSubscription:       status.Subscription.HasSubscription,
		Plan:                  status.Subscription.Plan,
		FreeMessagesRemaining: status.FreeMessagesRemaining,
	}
	if ts := status.Subscription.ExpiresAt; ts != "" {
		if t, err := parseExpiry(ts); err == nil {
			snap.ExpiresAt = &t
		}
	}
	return snap, nil
}

// saveTranscriptCmd caches the finished exchange on disk. The write
// runs off the UI goroutine, so it gets a snapshot rather than the
// live conversation the next submit will mutate.
func (m *Model) saveTranscriptCmd() tea.Cmd {
	transcripts := m.transcripts
	snapshot := *m.conv
	snapshot.Messages = append([]*model.Message(nil), m.conv.Messages...)

	return func() tea.Msg {
		return transcriptSavedMsg{err: transcripts.Save(&snapshot)}
	}
}

// deleteConversationCmd removes the active conversation on the server,
// then its cached transcript and the stored active id.
func (m *Model) deleteConversationCmd() tea.Cmd {
	client := m.client
	convSession := m.convSession
	transcripts := m.transcripts
	id := m.conv.ID

	return func() tea.Msg {
		if err := client.DeleteConversation(context.Background(), id); err != nil {
			return conversationDeletedMsg{id: id, err: err}
		}
		if transcripts != nil {
			if err := transcripts.Delete(id); err != nil {
				m.log.Warn().Err(err).Msg("failed to drop cached transcript")
			}
		}
		if err := convSession.ClearActive(); err != nil {
			return conversationDeletedMsg{id: id, err: err}
		}
		return conversationDeletedMsg{id: id}
	}
}

// logoutCmd clears the session and tells the root model. Session state
// must be gone before the login screen appears.
func (m *Model) logoutCmd() tea.Cmd {
	sess := m.session

	return func() tea.Msg {
		if err := sess.Clear(); err != nil {
			// Nothing sensible to do but log; the UI switches anyway
			m.log.Warn().Err(err).Msg("session clear failed")
		}
		return AuthExpiredMsg{}
	}
}
