// Package placekit assembles the PlaceKit authentication core: the session
// store, the identity provider adapters, the profile synchronizer, and the
// route gate. The helpers here wire the default stack together; applications
// with custom needs compose the subpackages directly.
package placekit

import (
	"go.uber.org/zap"

	"github.com/getplacekit/placekit/analytics"
	"github.com/getplacekit/placekit/authstate"
	"github.com/getplacekit/placekit/config"
	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
	"github.com/getplacekit/placekit/routegate"
)

// Convenience aliases for the types most consumers touch.
type (
	Session  = provider.Session
	Identity = authstate.Identity
	State    = authstate.State
)

// NewDefaultStore creates the session store with the configured timeout
// policy and the logging analytics identifier.
func NewDefaultStore(p provider.Provider, profiles *profile.Store, cfg *config.Config, log *zap.Logger) *authstate.Store {
	store := authstate.NewStore(p, profiles, authstate.Config{
		FetchTimeout:  cfg.FetchTimeout,
		SettleTimeout: cfg.SettleTimeout,
	}, log)
	store.SetAnalytics(analytics.NewZapIdentifier(log))
	return store
}

// NewDefaultGate creates the route gate with the PlaceKit rule table.
func NewDefaultGate(cfg *config.Config) *routegate.Gate {
	return routegate.New(routegate.DefaultRules(cfg.LoginRoute), cfg.LoginRoute, cfg.HomeRoute)
}
