// Package authstate implements the session store at the center of PlaceKit's
// authentication core.
//
// The store resolves two independent asynchronous sources of truth — a
// one-shot session fetch and an event-driven provider subscription — into a
// single consistent {Identity, Status} view. It owns the auth state machine,
// applies bounded timeouts so the UI is never blocked indefinitely, and is
// the sole writer of authentication state; every other component is a
// read-only observer.
//
// # State Machine
//
//	Uninitialized → Initializing → {Authenticated | Unauthenticated}
//
// Error is reachable from any state and recovers back to Initializing via
// Initialize (manual retry). Once the store has produced any decision,
// HasAttemptedAuth stays true for the lifetime of the instance.
//
// # Ordering
//
// All inputs — provider events, the initial fetch result, async profile
// merges, timer expiries — are serialized through one event loop goroutine.
// Session-bearing inputs are stamped with a monotonic sequence number at
// arrival; a profile merge that resolves after a newer session event has
// arrived is dropped rather than applied ("last writer wins" by sequence,
// not by merge completion time).
package authstate

import (
	"context"

	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
)

// Status is the single source of truth for UI gating.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"
	StatusInitializing    Status = "initializing"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusError           Status = "error"
)

// Grade tags how complete an Identity is. Consumers must handle the degraded
// case explicitly rather than assuming a profile is present.
type Grade string

const (
	// GradeFull means the profile merge succeeded.
	GradeFull Grade = "full"
	// GradeDegraded means profile storage failed and the identity is built
	// from session claims alone. The user is still authenticated.
	GradeDegraded Grade = "degraded"
)

// Identity is the merged view of Session + Profile exposed to the rest of
// the application. It is immutable once published; the store replaces the
// whole value on every update.
type Identity struct {
	Grade   Grade            `json:"grade"`
	Session provider.Session `json:"session"`
	Profile *profile.Profile `json:"profile,omitempty"` // nil when degraded
}

// DisplayName returns the profile display name, falling back to a
// session-derived default for degraded identities.
func (id *Identity) DisplayName() string {
	if id.Profile != nil && id.Profile.DisplayName != "" {
		return id.Profile.DisplayName
	}
	return profile.DisplayNameFor(id.Session)
}

// AvatarURL returns the profile avatar, falling back to the session claim.
func (id *Identity) AvatarURL() string {
	if id.Profile != nil && id.Profile.AvatarURL != "" {
		return id.Profile.AvatarURL
	}
	return id.Session.AvatarURL
}

// IsAdmin is false for degraded identities; admin rights require a stored
// profile.
func (id *Identity) IsAdmin() bool {
	return id.Profile != nil && id.Profile.IsAdmin
}

// State is the canonical snapshot published to observers.
//
// Invariant: Identity != nil implies Status == StatusAuthenticated.
// Invariant: HasAttemptedAuth never reverts to false.
type State struct {
	Identity *Identity
	Status   Status

	// Err is the provider error that produced StatusError, nil otherwise.
	Err error
	// SyncErr is the most recent profile-sync failure. Informational: it
	// never blocks authentication and is not surfaced as a blocking error.
	SyncErr error

	HasAttemptedAuth bool
}

func (s State) IsInitializing() bool {
	return s.Status == StatusInitializing
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Settled reports whether the store has reached a decision.
func (s State) Settled() bool {
	switch s.Status {
	case StatusAuthenticated, StatusUnauthenticated, StatusError:
		return true
	}
	return false
}

// Syncer merges a raw session into the persisted profile record. It may fail
// independently of the session fetch; the store degrades rather than blocks.
type Syncer interface {
	Sync(ctx context.Context, sess provider.Session) (*profile.Profile, error)
}

// SyncerFunc adapts a function to the Syncer interface.
type SyncerFunc func(ctx context.Context, sess provider.Session) (*profile.Profile, error)

func (f SyncerFunc) Sync(ctx context.Context, sess provider.Session) (*profile.Profile, error) {
	return f(ctx, sess)
}

// Identifier receives best-effort analytics identification calls. Failures
// are ignored; implementations must not block the caller.
type Identifier interface {
	Identify(subjectID string, traits map[string]any)
}
