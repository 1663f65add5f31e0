// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the chat screen: the send/receive state
// machine composing the session, entitlement tracker, conversation
// session and streaming transport.
package chat

import (
	"context"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
)

// ======
// MESSAGES
// ======

// streamStartedMsg is delivered once the streaming request is open and
// frames are about to flow. conversationID is the id the query was
// sent against, after the ensure step resolved it.
type streamStartedMsg struct {
	events         <-chan api.StreamEvent
	cancel         context.CancelFunc
	conversationID string
}

// streamFailedMsg is delivered when the send failed before any frame
// arrived (transport, status, content type, ensure-active).
type streamFailedMsg struct {
	err error
}

// streamEventsMsg carries a batch of stream events in arrival order.
type streamEventsMsg struct {
	events []api.StreamEvent
	closed bool
}

// entitlementGateMsg reports the post-reconcile entitlement decision
// for a submit that found CanSend false.
type entitlementGateMsg struct {
	allowed bool
	text    string
}

// reconciledMsg reports a background reconciliation outcome.
type reconciledMsg struct {
	err error
}

// transcriptSavedMsg reports the background transcript write.
type transcriptSavedMsg struct {
	err error
}

// conversationDeletedMsg reports the server-side delete outcome.
type conversationDeletedMsg struct {
	id  string
	err error
}

// ======
// MESSAGES FOR THE PARENT MODEL
// ======

// AuthExpiredMsg tells the root model the session died; it must switch
// to the login screen. No error banner accompanies it.
type AuthExpiredMsg struct{}

// UpgradeRequestedMsg tells the root model to open the subscription
// screen: the user is out of free prompts.
type UpgradeRequestedMsg struct {
	Identity entitlement.Identity
}

// ConversationCreatedMsg tells listeners a conversation id was minted
// this turn, so lists can refresh.
type ConversationCreatedMsg struct {
	ID string
}

// LanguageChangedMsg applies a configuration reload to the chat
// screen; the next query uses the new language.
type LanguageChangedMsg struct {
	Language string
}
