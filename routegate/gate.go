// Package routegate decides, per navigation target, whether protected
// content may render, whether a redirect is required, and whether a loading
// placeholder must be shown instead of either.
//
// Classification is a single ordered rule table rather than conditionals
// scattered across components. Decisions are pure functions of
// (path, auth state) so they are trivially unit-testable; the availability
// fallback timer is a middleware concern, not part of Decide.
package routegate

import (
	"strings"

	"github.com/getplacekit/placekit/authstate"
)

// Policy classifies a route.
type Policy string

const (
	// PolicyPublic routes render immediately regardless of auth state.
	PolicyPublic Policy = "public"
	// PolicyProtected routes require authentication. Loading is shown until
	// the store has attempted auth, then unauthenticated visitors are
	// redirected to the login route.
	PolicyProtected Policy = "protected"
	// PolicyAuthOnly routes (sign-in, sign-up) redirect away when the
	// visitor is already authenticated.
	PolicyAuthOnly Policy = "auth-only"
)

// Rule maps a path pattern to a policy. A pattern matches its exact path, or
// any descendant when it ends in "/*".
type Rule struct {
	Pattern string
	Policy  Policy
}

// Decision is the gate's verdict for one navigation target.
type Decision struct {
	Render      bool   `json:"render"`
	RedirectTo  string `json:"redirect_to,omitempty"`
	ShowLoading bool   `json:"show_loading"`
}

// Gate evaluates the rule table. The zero value is unusable; construct with
// New.
type Gate struct {
	rules      []Rule
	loginRoute string
	homeRoute  string
}

// New builds a gate. Rules are evaluated in order, first match wins; paths
// matching no rule default to PolicyProtected — the default is to protect,
// never to expose. loginRoute is the redirect target for unauthenticated
// visitors, homeRoute the landing route for authenticated ones.
func New(rules []Rule, loginRoute, homeRoute string) *Gate {
	return &Gate{rules: rules, loginRoute: loginRoute, homeRoute: homeRoute}
}

// DefaultRules is the PlaceKit route table: the landing and discovery pages
// are public, the sign-in pages are auth-only, everything else is protected.
func DefaultRules(loginRoute string) []Rule {
	return []Rule{
		{Pattern: "/", Policy: PolicyPublic},
		{Pattern: "/about", Policy: PolicyPublic},
		{Pattern: "/discover", Policy: PolicyPublic},
		{Pattern: "/discover/*", Policy: PolicyPublic},
		{Pattern: loginRoute, Policy: PolicyAuthOnly},
		{Pattern: "/signup", Policy: PolicyAuthOnly},
	}
}

// Classify resolves the policy for a path.
func (g *Gate) Classify(path string) Policy {
	for _, r := range g.rules {
		if matches(r.Pattern, path) {
			return r.Policy
		}
	}
	return PolicyProtected
}

func matches(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == pattern
}

// Decide returns the gate's verdict for the path under the given auth state.
// Pure: identical arguments always yield identical decisions.
func (g *Gate) Decide(path string, s authstate.State) Decision {
	switch g.Classify(path) {
	case PolicyPublic:
		return Decision{Render: true}

	case PolicyAuthOnly:
		if s.Authenticated() {
			return Decision{RedirectTo: g.homeRoute}
		}
		return Decision{Render: true}

	default: // PolicyProtected
		if !s.HasAttemptedAuth {
			return Decision{ShowLoading: true}
		}
		if s.Authenticated() {
			return Decision{Render: true}
		}
		return Decision{RedirectTo: g.loginRoute}
	}
}
