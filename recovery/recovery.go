// Package recovery classifies session-store errors and exposes the manual
// retry affordance.
//
// Only session-type errors (expired credentials, token problems) offer
// retry; harder failures offer "sign in again" instead. Retry is strictly
// user-triggered — no automatic loop runs here, to avoid retry storms
// against the identity provider.
package recovery

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/getplacekit/placekit/authstate"
)

// ErrNotRecoverable is returned by Retry when the stored error is not
// session-type; the only way forward is a fresh sign-in.
var ErrNotRecoverable = errors.New("recovery: error is not session-type, sign in again")

// Class buckets store errors for the recovery UI.
type Class string

const (
	// ClassSession covers expired or invalid credentials; recoverable via
	// retry.
	ClassSession Class = "session"
	// ClassFatal covers everything else; retry is not offered.
	ClassFatal Class = "fatal"
)

var sessionMarkers = []string{"session", "token", "expired", "jwt"}

// Classify buckets an error by message inspection. Provider adapters wrap
// errors from several libraries, so matching on the rendered message is the
// pragmatic common denominator.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionMarkers {
		if strings.Contains(msg, marker) {
			return ClassSession
		}
	}
	return ClassFatal
}

// Controller drives manual recovery against the session store.
type Controller struct {
	store *authstate.Store
	log   *zap.Logger
}

func NewController(store *authstate.Store, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{store: store, log: log}
}

// CanRetry reports whether the current error offers the retry affordance.
func (c *Controller) CanRetry() bool {
	st := c.store.State()
	return st.Status == authstate.StatusError && Classify(st.Err) == ClassSession
}

// Retry re-invokes the store's initialization routine. Concurrent calls
// share one in-flight run. Returns nil once the store settles in
// Authenticated or Unauthenticated, and the cause if it lands in Error
// again.
func (c *Controller) Retry(ctx context.Context) error {
	st := c.store.State()
	if st.Status != authstate.StatusError {
		return nil
	}
	if Classify(st.Err) != ClassSession {
		return ErrNotRecoverable
	}

	c.log.Info("retrying session initialization", zap.Error(st.Err))
	if err := c.store.Initialize(ctx); err != nil {
		c.log.Warn("session retry failed", zap.Error(err))
		return err
	}
	return nil
}
