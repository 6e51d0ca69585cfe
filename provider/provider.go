// Package provider defines the identity provider capability surface consumed
// by the session store, and ships two adapters: a local JWT provider for
// development and tests, and an OIDC provider for production deployments.
//
// The session store treats a provider as three capabilities: a one-shot
// "current session" fetch, an event subscription, and sign-out. Adapters own
// the credential material; the rest of the application only ever sees the
// Session value.
package provider

import (
	"context"
	"sync"
	"time"
)

// Tag identifies how a session was established.
type Tag string

const (
	TagPassword Tag = "password"
	TagOAuth    Tag = "oauth"
	TagOther    Tag = "other"
)

// Session is the provider-issued proof of authentication. It is opaque to the
// session store beyond the claims exposed here; the credential itself never
// leaves the adapter.
type Session struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Provider  Tag       `json:"provider"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType enumerates the provider change events.
type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventSignedOut      EventType = "signed_out"
	EventTokenRefreshed EventType = "token_refreshed"
)

// Event is a typed state-change notification pushed by a provider adapter.
// Session is nil for EventSignedOut.
type Event struct {
	Type    EventType
	Session *Session
}

// Provider is the capability surface the session store consumes.
//
// CurrentSession may hang or fail; callers apply their own timeout via ctx.
// A (nil, nil) return means no session is present. Subscribe registers a
// change listener and returns a cancel function; listeners must not block.
type Provider interface {
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(Event)) (cancel func())
	SignOut(ctx context.Context) error
}

// Hub is a small subscriber registry shared by provider adapters.
type Hub struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Emit delivers the event to all current subscribers. Delivery order across
// subscribers is not guaranteed; listeners serialize on their own queue.
func (h *Hub) Emit(ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
