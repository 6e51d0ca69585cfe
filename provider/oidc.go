package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the OIDC provider adapter.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// RefreshInterval is the cadence of the background token refresh.
	// Zero disables background refresh.
	RefreshInterval time.Duration
}

// oidcTokens is the JSON bundle persisted in the TokenStore.
type oidcTokens struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// OIDCProvider implements Provider against an OpenID Connect issuer. The raw
// ID token and refresh token live in a TokenStore; CurrentSession verifies
// the stored ID token and falls back to a refresh when it has expired.
type OIDCProvider struct {
	cfg      OIDCConfig
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
	tokens   TokenStore
	log      *zap.Logger
	hub      Hub

	closeOnce sync.Once
	done      chan struct{}
}

// NewOIDCProvider performs issuer discovery and returns a ready adapter.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, tokens TokenStore, log *zap.Logger) (*OIDCProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	prov, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discovery for %s failed: %w", cfg.Issuer, err)
	}

	p := &OIDCProvider{
		cfg:      cfg,
		verifier: prov.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     prov.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		tokens: tokens,
		log:    log,
		done:   make(chan struct{}),
	}

	if cfg.RefreshInterval > 0 {
		go p.refreshLoop()
	}
	return p, nil
}

func (p *OIDCProvider) CurrentSession(ctx context.Context) (*Session, error) {
	stored, err := p.load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess, verr := p.verify(ctx, stored.IDToken)
	if verr == nil {
		return sess, nil
	}

	// Expired ID token with a refresh token on hand is recoverable in place.
	if stored.RefreshToken != "" {
		if refreshed, rerr := p.refresh(ctx, stored); rerr == nil {
			return refreshed, nil
		}
	}
	return nil, fmt.Errorf("oidc provider: session invalid: %w", verr)
}

func (p *OIDCProvider) Subscribe(fn func(Event)) func() {
	return p.hub.Subscribe(fn)
}

func (p *OIDCProvider) SignOut(ctx context.Context) error {
	if err := p.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("oidc provider: sign out: %w", err)
	}
	p.hub.Emit(Event{Type: EventSignedOut})
	return nil
}

// HandleCallback exchanges an authorization code, persists the resulting
// tokens, and emits a SignedIn event. Used by the sign-in HTTP route.
func (p *OIDCProvider) HandleCallback(ctx context.Context, code string) (*Session, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: code exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("oidc provider: no id_token in token response")
	}
	sess, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	if err := p.save(ctx, oidcTokens{IDToken: rawIDToken, RefreshToken: token.RefreshToken}); err != nil {
		return nil, err
	}
	p.hub.Emit(Event{Type: EventSignedIn, Session: sess})
	return sess, nil
}

// AuthCodeURL returns the issuer's authorization URL for the given state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Close stops the background refresh loop.
func (p *OIDCProvider) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *OIDCProvider) refreshLoop() {
	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			stored, err := p.load(ctx)
			if err == nil && stored.RefreshToken != "" {
				if _, err := p.refresh(ctx, stored); err != nil {
					p.log.Warn("oidc token refresh failed", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// refresh redeems the stored refresh token, persists the rotated bundle, and
// emits a TokenRefreshed event.
func (p *OIDCProvider) refresh(ctx context.Context, stored oidcTokens) (*Session, error) {
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oidc provider: token refresh failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		rawIDToken = stored.IDToken
	}
	sess, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	next := oidcTokens{IDToken: rawIDToken, RefreshToken: token.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = stored.RefreshToken
	}
	if err := p.save(ctx, next); err != nil {
		return nil, err
	}
	p.hub.Emit(Event{Type: EventTokenRefreshed, Session: sess})
	return sess, nil
}

func (p *OIDCProvider) verify(ctx context.Context, rawIDToken string) (*Session, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: id token verify failed: %w", err)
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc provider: parse claims: %w", err)
	}

	return &Session{
		SubjectID: idToken.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
		Provider:  TagOAuth,
		IssuedAt:  idToken.IssuedAt,
		ExpiresAt: idToken.Expiry,
	}, nil
}

func (p *OIDCProvider) load(ctx context.Context) (oidcTokens, error) {
	raw, err := p.tokens.Load(ctx)
	if err != nil {
		return oidcTokens{}, err
	}
	var stored oidcTokens
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return oidcTokens{}, fmt.Errorf("oidc provider: stored token corrupt: %w", err)
	}
	return stored, nil
}

func (p *OIDCProvider) save(ctx context.Context, stored oidcTokens) error {
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("oidc provider: encode tokens: %w", err)
	}
	return p.tokens.Save(ctx, string(raw))
}
