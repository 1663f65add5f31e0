// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package entitlement decides whether the current identity may issue
// another query. Free-tier users carry a decrementing prompt counter;
// subscribers send regardless of the counter. The local counter is
// optimistic and is periodically overwritten by the backend's
// authoritative snapshot.
package entitlement

import (
	"context"
	"sync"
	"time"
)

// Plan is the subscription tier of an identity.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanDaily   Plan = "daily"
	PlanWeekly  Plan = "weekly"
	PlanMonthly Plan = "monthly"
)

// Identity is the entitlement-relevant view of the logged-in user.
type Identity struct {
	Username             string
	Plan                 Plan
	FreePromptsRemaining int
	ExpiresAt            *time.Time
}

// Subscribed reports whether the identity holds a paid plan.
func (id Identity) Subscribed() bool {
	return id.Plan != "" && id.Plan != PlanFree
}

// Snapshot is the backend's authoritative entitlement state, fetched
// from /free-messages/status.
type Snapshot struct {
	HasSubscription       bool
	Plan                  string
	ExpiresAt             *time.Time
	FreeMessagesRemaining int
}

// Persister receives the free-prompt count after each local change so
// it survives a restart. The session manager implements it.
type Persister interface {
	SetFreePrompts(n int) error
}

// Tracker holds the current identity and arbitrates sends.
type Tracker struct {
	mu          sync.Mutex
	identity    Identity
	outstanding int
	reconciling bool
	persist     Persister
}

// NewTracker creates a tracker for identity. persist may be nil.
func NewTracker(identity Identity, persist Persister) *Tracker {
	return &Tracker{identity: identity, persist: persist}
}

// Identity returns a copy of the current identity.
func (t *Tracker) Identity() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// SetIdentity replaces the tracked identity, e.g. after login.
func (t *Tracker) SetIdentity(identity Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identity = identity
	t.outstanding = 0
	t.persistLocked()
}

// CanSend reports whether another query may be issued: any paid plan,
// or a free plan with prompts remaining.
func (t *Tracker) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.identity.Subscribed() {
		return true
	}
	return t.identity.FreePromptsRemaining > 0
}

// DecrementLocal burns one free prompt at the moment a send starts,
// before the network round trip completes, so a burst of rapid sends
// cannot exceed quota while the server catches up. Clamped at zero;
// no-op for subscribers.
func (t *Tracker) DecrementLocal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.identity.Subscribed() {
		return
	}
	if t.identity.FreePromptsRemaining > 0 {
		t.identity.FreePromptsRemaining--
		t.outstanding++
		t.persistLocked()
	}
}

// Restore undoes one optimistic decrement after a failed send. It never
// raises the counter above what the decrements took off, so repeated
// failures cannot mint quota.
func (t *Tracker) Restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.identity.Subscribed() || t.outstanding == 0 {
		return
	}
	t.identity.FreePromptsRemaining++
	t.outstanding--
	t.persistLocked()
}

// ConfirmSend marks one optimistic decrement as server-confirmed, so a
// later Restore cannot refund it.
func (t *Tracker) ConfirmSend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outstanding > 0 {
		t.outstanding--
	}
}

// Reconcile fetches the authoritative snapshot and overwrites local
// state with it. At most one reconciliation runs at a time; a duplicate
// trigger while one is in flight returns immediately with no effect.
// If the fetch fails, the previous local state is retained unchanged.
func (t *Tracker) Reconcile(ctx context.Context, fetch func(context.Context) (Snapshot, error)) error {
	t.mu.Lock()
	if t.reconciling {
		t.mu.Unlock()
		return nil
	}
	t.reconciling = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconciling = false
		t.mu.Unlock()
	}()

	snap, err := fetch(ctx)
	if err != nil {
		// Fail-open on display, but CanSend keeps gating on the
		// last-known value.
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(snap)
	return nil
}

// Apply overwrites local state with an already-fetched snapshot.
func (t *Tracker) Apply(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(snap)
}

func (t *Tracker) applyLocked(snap Snapshot) {
	if snap.HasSubscription {
		plan := Plan(snap.Plan)
		if plan == "" || plan == PlanFree {
			plan = PlanDaily
		}
		t.identity.Plan = plan
		t.identity.ExpiresAt = snap.ExpiresAt
	} else {
		t.identity.Plan = PlanFree
		t.identity.ExpiresAt = nil
		t.identity.FreePromptsRemaining = snap.FreeMessagesRemaining
	}
	// Remote state supersedes any in-flight optimistic bookkeeping
	t.outstanding = 0
	t.persistLocked()
}

func (t *Tracker) persistLocked() {
	if t.persist != nil {
		_ = t.persist.SetFreePrompts(t.identity.FreePromptsRemaining)
	}
}
