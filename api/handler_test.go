package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/getplacekit/placekit/authstate"
	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
	"github.com/getplacekit/placekit/recovery"
	"github.com/getplacekit/placekit/routegate"
)

type testEnv struct {
	e     *echo.Echo
	h     *Handler
	prov  *provider.LocalProvider
	store *authstate.Store
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	profiles, err := profile.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open profile store: %v", err)
	}
	prov := provider.NewLocalProvider([]byte("test-secret"), provider.NewMemoryTokenStore(), time.Hour, nil)

	store := authstate.NewStore(prov, profiles, authstate.Config{
		FetchTimeout:  200 * time.Millisecond,
		SettleTimeout: time.Second,
	}, nil)
	t.Cleanup(store.Close)

	gate := routegate.New(routegate.DefaultRules("/login"), "/login", "/lists")
	h := NewHandler(store, gate, recovery.NewController(store, nil), nil)
	h.SetRenderFallback(300 * time.Millisecond)

	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1/auth"))
	return &testEnv{e: e, h: h, prov: prov, store: store}
}

func (env *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) waitAuthenticated(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.store.State().Status == authstate.StatusAuthenticated {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("store never authenticated, status %s", env.store.State().Status)
}

func TestSessionEndpoint(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/v1/auth/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("session returned %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Status           string `json:"status"`
		HasAttemptedAuth bool   `json:"has_attempted_auth"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Status != "unauthenticated" || !body.HasAttemptedAuth {
		t.Errorf("unexpected snapshot: %+v", body)
	}
}

func TestSignInFlowThroughStore(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if _, err := env.prov.SignIn(context.Background(), "u1", "alice@example.com", "Alice"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	env.waitAuthenticated(t)

	rec := env.do(http.MethodGet, "/api/v1/auth/session")
	var body struct {
		Status      string `json:"status"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Status != "authenticated" {
		t.Errorf("expected authenticated, got %s", body.Status)
	}
	if body.DisplayName != "Alice" {
		t.Errorf("expected Alice, got %q", body.DisplayName)
	}
}

func TestSignOutEndpoint(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := env.prov.SignIn(context.Background(), "u2", "bob@example.com", ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	env.waitAuthenticated(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/signout")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("signout returned %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.store.State().Status == authstate.StatusUnauthenticated {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("store still %s after sign-out", env.store.State().Status)
}

func TestGateEndpoint(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/v1/auth/gate?path=/lists/abc123")
	if rec.Code != http.StatusOK {
		t.Fatalf("gate returned %d", rec.Code)
	}
	var d routegate.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if d.RedirectTo != "/login" {
		t.Errorf("expected login redirect, got %+v", d)
	}

	if rec := env.do(http.MethodGet, "/api/v1/auth/gate"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing path must be a 400, got %d", rec.Code)
	}
}

func TestRefreshProfileEndpoint(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if rec := env.do(http.MethodPost, "/api/v1/auth/profile/refresh"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated refresh must be a 401, got %d", rec.Code)
	}

	if _, err := env.prov.SignIn(context.Background(), "u3", "carol@example.com", ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	env.waitAuthenticated(t)
	if rec := env.do(http.MethodPost, "/api/v1/auth/profile/refresh"); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
}

func TestGateMiddleware(t *testing.T) {
	env := setup(t)
	if err := env.store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	rendered := false
	env.e.GET("/lists/:id", func(c echo.Context) error {
		rendered = true
		return c.String(http.StatusOK, "list")
	}, env.h.GateMiddleware)
	env.e.GET("/discover/:city", func(c echo.Context) error {
		return c.String(http.StatusOK, "discover")
	}, env.h.GateMiddleware)

	if rec := env.do(http.MethodGet, "/lists/abc123"); rec.Code != http.StatusFound {
		t.Errorf("expected redirect for unauthenticated visitor, got %d", rec.Code)
	} else if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("expected /login, got %q", loc)
	}
	if rendered {
		t.Error("protected handler ran for unauthenticated visitor")
	}

	if rec := env.do(http.MethodGet, "/discover/rome"); rec.Code != http.StatusOK {
		t.Errorf("public route blocked: %d", rec.Code)
	}

	if _, err := env.prov.SignIn(context.Background(), "u4", "dave@example.com", ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	env.waitAuthenticated(t)
	if rec := env.do(http.MethodGet, "/lists/abc123"); rec.Code != http.StatusOK {
		t.Errorf("authenticated visitor blocked: %d", rec.Code)
	}
}

func TestGateMiddlewareAbortedRequest(t *testing.T) {
	// The client is gone while auth is unresolved; the protected handler
	// must not run on the way out.
	env := setup(t)
	env.store.Start()

	rendered := false
	env.e.GET("/lists/:id", func(c echo.Context) error {
		rendered = true
		return c.String(http.StatusOK, "list")
	}, env.h.GateMiddleware)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/lists/abc123", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	if rendered {
		t.Error("protected handler ran for an aborted request")
	}
	if rec.Code == http.StatusOK {
		t.Errorf("aborted request answered %d", rec.Code)
	}
}

func TestGateMiddlewareRenderFallback(t *testing.T) {
	// No Initialize call: the store never settles, so a protected request
	// must be held until the fallback bound and then rendered.
	env := setup(t)
	env.store.Start()

	env.e.GET("/lists/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "list")
	}, env.h.GateMiddleware)

	start := time.Now()
	rec := env.do(http.MethodGet, "/lists/abc123")
	elapsed := time.Since(start)

	if rec.Code != http.StatusOK {
		t.Errorf("expected forced render, got %d", rec.Code)
	}
	if elapsed < 250*time.Millisecond {
		t.Errorf("request released before the fallback bound: %v", elapsed)
	}
}
