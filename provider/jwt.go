package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalClaims is the claim set carried by locally issued session tokens.
type LocalClaims struct {
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
	Method    string `json:"method,omitempty"`
	jwt.RegisteredClaims
}

// LocalProvider implements Provider with HS256 tokens held in a TokenStore.
// It is the development and test adapter: SignIn mints a token directly
// instead of going through an external issuer.
type LocalProvider struct {
	secret []byte
	tokens TokenStore
	expiry time.Duration
	log    *zap.Logger
	hub    Hub
}

// NewLocalProvider creates a local JWT provider. expiry bounds issued tokens;
// zero defaults to 24h.
func NewLocalProvider(secret []byte, tokens TokenStore, expiry time.Duration, log *zap.Logger) *LocalProvider {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalProvider{secret: secret, tokens: tokens, expiry: expiry, log: log}
}

func (p *LocalProvider) CurrentSession(ctx context.Context) (*Session, error) {
	raw, err := p.tokens.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jwt provider: load token: %w", err)
	}
	sess, err := p.parse(raw)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (p *LocalProvider) Subscribe(fn func(Event)) func() {
	return p.hub.Subscribe(fn)
}

// SignIn mints a token for the subject, persists it, and notifies
// subscribers. The returned session mirrors what CurrentSession would yield.
func (p *LocalProvider) SignIn(ctx context.Context, subjectID, email, name string) (*Session, error) {
	sess, err := p.mint(ctx, subjectID, email, name)
	if err != nil {
		return nil, err
	}
	p.hub.Emit(Event{Type: EventSignedIn, Session: sess})
	return sess, nil
}

func (p *LocalProvider) mint(ctx context.Context, subjectID, email, name string) (*Session, error) {
	now := time.Now()
	claims := LocalClaims{
		Email:  email,
		Name:   name,
		Method: string(TagPassword),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("jwt provider: sign token: %w", err)
	}
	if err := p.tokens.Save(ctx, raw); err != nil {
		return nil, err
	}
	return sessionFromClaims(&claims), nil
}

func (p *LocalProvider) SignOut(ctx context.Context) error {
	if err := p.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("jwt provider: sign out: %w", err)
	}
	p.hub.Emit(Event{Type: EventSignedOut})
	return nil
}

// Refresh re-issues the stored token with a fresh expiry and emits a
// TokenRefreshed event. Fails if no valid token is stored.
func (p *LocalProvider) Refresh(ctx context.Context) (*Session, error) {
	raw, err := p.tokens.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil, fmt.Errorf("jwt provider: refresh: %w", ErrNoToken)
	}
	if err != nil {
		return nil, err
	}
	sess, err := p.parse(raw)
	if err != nil {
		return nil, err
	}

	reissued, err := p.mint(ctx, sess.SubjectID, sess.Email, sess.Name)
	if err != nil {
		return nil, err
	}
	p.hub.Emit(Event{Type: EventTokenRefreshed, Session: reissued})
	return reissued, nil
}

func (p *LocalProvider) parse(raw string) (*Session, error) {
	token, err := jwt.ParseWithClaims(raw, &LocalClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt provider: token invalid: %w", err)
	}
	claims, ok := token.Claims.(*LocalClaims)
	if !ok || !token.Valid {
		return nil, errors.New("jwt provider: token invalid")
	}
	return sessionFromClaims(claims), nil
}

func sessionFromClaims(claims *LocalClaims) *Session {
	tag := Tag(claims.Method)
	if tag == "" {
		tag = TagOther
	}
	sess := &Session{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
		Provider:  tag,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess
}
