package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const stateTTL = 10 * time.Minute

// Scopes requested at consent.
var Scopes = []string{
	gmail.GmailSendScope,
	gmail.GmailReadonlyScope,
	"openid",
	"email",
}

// Store is the token persistence used by Service.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (Account, error)
	Save(ctx context.Context, userID uuid.UUID, email string, tok *oauth2.Token) error
	Delete(ctx context.Context, userID uuid.UUID) error
	ConnectedUsers(ctx context.Context) ([]Account, error)
}

// Service runs the OAuth flow and builds authenticated clients.
type Service struct {
	store       Store
	oauth       *oauth2.Config
	enabled     bool
	stateSecret []byte
	log         *logger.Logger
}

// NewService creates the Google service. stateSecret signs the OAuth state.
func NewService(store Store, cfg config.GoogleConfig, stateSecret string, log *logger.Logger) *Service {
	return &Service{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.GetGoogleClientID(),
			ClientSecret: cfg.GetGoogleClientSecret(),
			RedirectURL:  cfg.GetGoogleRedirectURL(),
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		enabled:     cfg.IsGoogleEnabled(),
		stateSecret: []byte(stateSecret),
		log:         log,
	}
}

// Enabled reports whether OAuth client credentials are configured.
func (s *Service) Enabled() bool {
	return s.enabled
}

// AuthURL returns the consent URL for userID.
func (s *Service) AuthURL(userID uuid.UUID) (string, error) {
	if !s.enabled {
		return "", apperr.Unavailable("google integration is not configured")
	}
	state, err := s.signState(userID)
	if err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true")), nil
}

// Exchange completes the flow and stores the token for the user in state.
func (s *Service) Exchange(ctx context.Context, state, code string) (uuid.UUID, error) {
	if !s.enabled {
		return uuid.Nil, apperr.Unavailable("google integration is not configured")
	}
	userID, err := s.verifyState(state)
	if err != nil {
		return uuid.Nil, err
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("google code exchange failed")
	}

	email := ""
	if svc, err := gmail.NewService(ctx, option.WithTokenSource(s.oauth.TokenSource(ctx, tok))); err == nil {
		if profile, err := svc.Users.GetProfile("me").Context(ctx).Do(); err == nil {
			email = profile.EmailAddress
		}
	}
	if err := s.store.Save(ctx, userID, email, tok); err != nil {
		return uuid.Nil, fmt.Errorf("store google token: %w", err)
	}
	s.log.Info("google account connected", "userId", userID, "email", email)
	return userID, nil
}

// Status reports the connected address, or "" when not connected.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	acc, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotConnected) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return acc.Email, true, nil
}

// Disconnect forgets the user's tokens.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) error {
	return s.store.Delete(ctx, userID)
}

// TokenSource returns a refreshing token source that writes refreshed
// tokens back to the store.
func (s *Service) TokenSource(ctx context.Context, userID uuid.UUID) (oauth2.TokenSource, bool, error) {
	if !s.enabled {
		return nil, false, nil
	}
	acc, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotConnected) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	base := s.oauth.TokenSource(context.WithoutCancel(ctx), acc.Token)
	return &persistingSource{
		base:   base,
		last:   acc.Token.AccessToken,
		save:   func(tok *oauth2.Token) error { return s.store.Save(context.WithoutCancel(ctx), userID, "", tok) },
		log:    s.log,
		userID: userID,
	}, true, nil
}

// Gmail returns an authenticated Gmail client and the account address.
func (s *Service) Gmail(ctx context.Context, userID uuid.UUID) (*gmail.Service, string, error) {
	ts, ok, err := s.TokenSource(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrNotConnected
	}
	acc, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, "", fmt.Errorf("gmail service: %w", err)
	}
	return svc, acc.Email, nil
}

// ConnectedUsers lists users that connected an account.
func (s *Service) ConnectedUsers(ctx context.Context) ([]Account, error) {
	if !s.enabled {
		return nil, nil
	}
	return s.store.ConnectedUsers(ctx)
}

func (s *Service) signState(userID uuid.UUID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{"google-oauth"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	})
	return token.SignedString(s.stateSecret)
}

func (s *Service) verifyState(state string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return s.stateSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience("google-oauth"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid oauth state")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid oauth state")
	}
	return userID, nil
}

// persistingSource saves a token whenever the underlying source refreshed it.
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	last   string
	save   func(*oauth2.Token) error
	log    *logger.Logger
	userID uuid.UUID
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.save(tok); err != nil {
			p.log.Warn("failed to persist refreshed google token", "userId", p.userID, "error", err)
		}
	}
	return tok, nil
}
