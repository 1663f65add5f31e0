// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the Wakili backend: authentication,
// conversation management, entitlement status, subscription orders, and
// the streaming query transport.
package api

import (
	"errors"
	"fmt"
	"strings"
)

// ======
// ERROR TYPES
// ======

// Sentinel errors checked by callers with errors.Is.
var (
	// ErrNotAuthenticated means no token is available; the call was
	// never sent.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthExpired means the backend rejected the token (401). The
	// caller must tear the session down, never show a generic error.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrProtocol means the backend answered with something the
	// streaming protocol forbids, e.g. a JSON content type where an
	// event stream was required. Fatal to the send, never retried.
	ErrProtocol = errors.New("protocol violation")

	// ErrConversationInvalid means a conversation response lacked the
	// fields the client requires (notably id).
	ErrConversationInvalid = errors.New("invalid conversation response")

	// ErrNetwork wraps transport-level failures (DNS, connect,
	// timeout). Only the login call retries on it.
	ErrNetwork = errors.New("network error")
)

// authExpiredMessage is the backend's wording for a dead session; some
// error paths carry it in a message body rather than a 401 status.
const authExpiredMessage = "Authentication expired"

// APIError is a backend-declared failure with a human-readable detail.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// IsAuthExpired reports whether err signals a dead session, by sentinel
// or by recognized message text.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) {
		return true
	}
	return strings.Contains(err.Error(), authExpiredMessage)
}
