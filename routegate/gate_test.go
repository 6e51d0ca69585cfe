package routegate

import (
	"testing"

	"github.com/getplacekit/placekit/authstate"
)

func testGate() *Gate {
	return New(DefaultRules("/login"), "/login", "/lists")
}

func authenticated() authstate.State {
	return authstate.State{
		Status:           authstate.StatusAuthenticated,
		Identity:         &authstate.Identity{Grade: authstate.GradeFull},
		HasAttemptedAuth: true,
	}
}

func unauthenticated() authstate.State {
	return authstate.State{
		Status:           authstate.StatusUnauthenticated,
		HasAttemptedAuth: true,
	}
}

func initializing() authstate.State {
	return authstate.State{Status: authstate.StatusInitializing}
}

func TestClassify(t *testing.T) {
	g := testGate()

	cases := []struct {
		path string
		want Policy
	}{
		{"/", PolicyPublic},
		{"/about", PolicyPublic},
		{"/discover", PolicyPublic},
		{"/discover/paris", PolicyPublic},
		{"/discover/paris/cafes", PolicyPublic},
		{"/login", PolicyAuthOnly},
		{"/signup", PolicyAuthOnly},
		{"/lists", PolicyProtected},
		{"/lists/abc123", PolicyProtected},
		{"/settings", PolicyProtected},
		{"/discovery", PolicyProtected}, // prefix of a public path, not a descendant
	}
	for _, tc := range cases {
		if got := g.Classify(tc.path); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestUnknownPathDefaultsToProtected(t *testing.T) {
	g := testGate()
	d := g.Decide("/totally/unknown", unauthenticated())
	if d.Render {
		t.Error("unknown path rendered for unauthenticated visitor")
	}
	if d.RedirectTo != "/login" {
		t.Errorf("expected redirect to /login, got %q", d.RedirectTo)
	}
}

func TestPublicRendersRegardlessOfState(t *testing.T) {
	g := testGate()
	for _, st := range []authstate.State{authenticated(), unauthenticated(), initializing()} {
		d := g.Decide("/discover/rome", st)
		if !d.Render || d.ShowLoading || d.RedirectTo != "" {
			t.Errorf("public route under %s: got %+v", st.Status, d)
		}
	}
}

func TestProtectedBeforeFirstDecisionShowsLoading(t *testing.T) {
	g := testGate()
	d := g.Decide("/lists/abc123", initializing())
	if !d.ShowLoading {
		t.Errorf("expected loading, got %+v", d)
	}
	if d.Render || d.RedirectTo != "" {
		t.Errorf("loading decision must neither render nor redirect: %+v", d)
	}
}

func TestProtectedAfterDecision(t *testing.T) {
	g := testGate()

	if d := g.Decide("/lists/abc123", authenticated()); !d.Render {
		t.Errorf("authenticated visitor blocked: %+v", d)
	}
	if d := g.Decide("/lists/abc123", unauthenticated()); d.RedirectTo != "/login" {
		t.Errorf("expected login redirect, got %+v", d)
	}
}

func TestAuthOnlyRedirectsAuthenticatedVisitors(t *testing.T) {
	g := testGate()

	if d := g.Decide("/login", authenticated()); d.RedirectTo != "/lists" {
		t.Errorf("expected home redirect, got %+v", d)
	}
	if d := g.Decide("/login", unauthenticated()); !d.Render {
		t.Errorf("unauthenticated visitor blocked from login: %+v", d)
	}
	// Pre-decision visitors may render the sign-in page immediately.
	if d := g.Decide("/signup", initializing()); !d.Render {
		t.Errorf("signup page blocked during initialization: %+v", d)
	}
}

func TestDecideIsPure(t *testing.T) {
	g := testGate()
	st := unauthenticated()
	first := g.Decide("/lists/abc123", st)
	for i := 0; i < 5; i++ {
		if got := g.Decide("/lists/abc123", st); got != first {
			t.Fatalf("decision changed between calls: %+v vs %+v", first, got)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	g := New([]Rule{
		{Pattern: "/admin/*", Policy: PolicyProtected},
		{Pattern: "/admin/help", Policy: PolicyPublic}, // shadowed
	}, "/login", "/lists")

	if got := g.Classify("/admin/help"); got != PolicyProtected {
		t.Errorf("expected earlier rule to win, got %s", got)
	}
}
