// Package api exposes the auth core over HTTP: the state snapshot consumed
// by page components, the sign-out/retry/refresh entry points, and the gate
// middleware for server-rendered routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/getplacekit/placekit/authstate"
	"github.com/getplacekit/placekit/recovery"
	"github.com/getplacekit/placekit/routegate"
)

type Handler struct {
	store *authstate.Store
	gate  *routegate.Gate
	recov *recovery.Controller
	log   *zap.Logger

	// renderFallback bounds how long the gate middleware holds a protected
	// request while auth is unresolved before rendering anyway.
	renderFallback time.Duration
}

func NewHandler(store *authstate.Store, gate *routegate.Gate, recov *recovery.Controller, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:          store,
		gate:           gate,
		recov:          recov,
		log:            log,
		renderFallback: 8 * time.Second,
	}
}

// SetRenderFallback overrides the middleware's forced-render bound.
func (h *Handler) SetRenderFallback(d time.Duration) {
	if d > 0 {
		h.renderFallback = d
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/session", h.HandleSession)
	g.POST("/signout", h.HandleSignOut)
	g.POST("/retry", h.HandleRetry)
	g.POST("/profile/refresh", h.HandleRefreshProfile)
	g.GET("/gate", h.HandleGate)
}

// HandleSession returns the current auth state snapshot.
func (h *Handler) HandleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, stateBody(h.store.State()))
}

// HandleSignOut delegates to the store. On provider failure the local state
// is intentionally unchanged and the failure is reported to the caller.
func (h *Handler) HandleSignOut(c echo.Context) error {
	if err := h.store.SignOut(c.Request().Context()); err != nil {
		return h.Error(c, http.StatusBadGateway, "Sign out failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleRetry triggers the manual recovery path.
func (h *Handler) HandleRetry(c echo.Context) error {
	err := h.recov.Retry(c.Request().Context())
	if errors.Is(err, recovery.ErrNotRecoverable) {
		return h.Error(c, http.StatusConflict, "Not recoverable, sign in again", err)
	}
	if err != nil {
		return h.Error(c, http.StatusBadGateway, "Retry failed", err)
	}
	return c.JSON(http.StatusOK, stateBody(h.store.State()))
}

// HandleRefreshProfile re-runs the profile merge for the current session.
func (h *Handler) HandleRefreshProfile(c echo.Context) error {
	if err := h.store.RefreshProfile(); err != nil {
		return h.Error(c, http.StatusUnauthorized, "Not authenticated", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleGate returns the route decision for ?path=, letting thin clients ask
// the server instead of duplicating the rule table.
func (h *Handler) HandleGate(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return h.Error(c, http.StatusBadRequest, "Missing path parameter", nil)
	}
	return c.JSON(http.StatusOK, h.gate.Decide(path, h.store.State()))
}

// GateMiddleware applies route-gate decisions to server-rendered routes.
// While auth is unresolved on a protected route it holds the request until a
// real decision lands or the fallback bound expires, at which point it
// renders anyway — availability over strict correctness.
func (h *Handler) GateMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		d := h.gate.Decide(path, h.store.State())
		if d.ShowLoading {
			var err error
			d, err = h.waitForDecision(c.Request().Context(), path)
			if err != nil {
				// The request died while auth was unresolved; protected
				// content must not render on the way out.
				return err
			}
		}
		if d.RedirectTo != "" {
			return c.Redirect(http.StatusFound, d.RedirectTo)
		}
		return next(c)
	}
}

func (h *Handler) waitForDecision(ctx context.Context, path string) (routegate.Decision, error) {
	settled := make(chan authstate.State, 1)
	cancel := h.store.Subscribe(func(st authstate.State) {
		if !st.HasAttemptedAuth {
			return
		}
		select {
		case settled <- st:
		default:
		}
	})
	defer cancel()

	if st := h.store.State(); st.HasAttemptedAuth {
		return h.gate.Decide(path, st), nil
	}

	timer := time.NewTimer(h.renderFallback)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return routegate.Decision{}, ctx.Err()
	case st := <-settled:
		// The fallback timer dies with this return; a late forced render
		// can never stomp a deliberate redirect.
		return h.gate.Decide(path, st), nil
	case <-timer.C:
		h.log.Warn("auth unresolved past render fallback, rendering anyway",
			zap.String("path", path),
			zap.Duration("render_fallback", h.renderFallback))
		return routegate.Decision{Render: true}, nil
	}
}

func stateBody(st authstate.State) map[string]interface{} {
	body := map[string]interface{}{
		"status":             st.Status,
		"has_attempted_auth": st.HasAttemptedAuth,
		"is_initializing":    st.IsInitializing(),
	}
	if st.Identity != nil {
		body["identity"] = st.Identity
		body["display_name"] = st.Identity.DisplayName()
	}
	if st.Err != nil {
		body["error"] = st.Err.Error()
		body["error_class"] = recovery.Classify(st.Err)
	}
	if st.SyncErr != nil {
		body["sync_error"] = st.SyncErr.Error()
	}
	return body
}

// Helper for professional errors
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	resp := map[string]interface{}{
		"status": message,
		"code":   code,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(code, resp)
}
