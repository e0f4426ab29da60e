package google

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type fakeGoogleConfig struct{ enabled bool }

func (f fakeGoogleConfig) GetGoogleClientID() string     { return "client" }
func (f fakeGoogleConfig) GetGoogleClientSecret() string { return "secret" }
func (f fakeGoogleConfig) GetGoogleRedirectURL() string  { return "https://api.example.com/oauth/google/callback" }
func (f fakeGoogleConfig) IsGoogleEnabled() bool         { return f.enabled }

type memStore struct {
	accounts map[uuid.UUID]Account
	saves    int
}

func (m *memStore) Get(_ context.Context, userID uuid.UUID) (Account, error) {
	acc, ok := m.accounts[userID]
	if !ok {
		return Account{}, ErrNotConnected
	}
	return acc, nil
}

func (m *memStore) Save(_ context.Context, userID uuid.UUID, email string, tok *oauth2.Token) error {
	m.saves++
	acc := m.accounts[userID]
	acc.UserID, acc.Token = userID, tok
	if email != "" {
		acc.Email = email
	}
	m.accounts[userID] = acc
	return nil
}

func (m *memStore) Delete(_ context.Context, userID uuid.UUID) error {
	delete(m.accounts, userID)
	return nil
}

func (m *memStore) ConnectedUsers(context.Context) ([]Account, error) {
	var out []Account
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func TestStateRoundTrip(t *testing.T) {
	svc := NewService(&memStore{accounts: map[uuid.UUID]Account{}}, fakeGoogleConfig{enabled: true}, "state-secret", logger.NewNop())
	userID := uuid.New()

	state, err := svc.signState(userID)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	got, err := svc.verifyState(state)
	if err != nil || got != userID {
		t.Fatalf("expected %s, got %s (%v)", userID, got, err)
	}

	other := NewService(&memStore{}, fakeGoogleConfig{enabled: true}, "other-secret", logger.NewNop())
	if _, err := other.verifyState(state); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request for foreign state, got %v", err)
	}
}

func TestAuthURLRequiresConfiguration(t *testing.T) {
	svc := NewService(&memStore{}, fakeGoogleConfig{enabled: false}, "s", logger.NewNop())
	if _, err := svc.AuthURL(uuid.New()); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestTokenSourceForUnconnectedUser(t *testing.T) {
	svc := NewService(&memStore{accounts: map[uuid.UUID]Account{}}, fakeGoogleConfig{enabled: true}, "s", logger.NewNop())
	ts, ok, err := svc.TokenSource(context.Background(), uuid.New())
	if err != nil || ok || ts != nil {
		t.Fatalf("expected not connected, got ok=%v err=%v", ok, err)
	}
}

func TestTokenSourceReturnsValidToken(t *testing.T) {
	userID := uuid.New()
	store := &memStore{accounts: map[uuid.UUID]Account{
		userID: {UserID: userID, Email: "owner@acme.io", Token: &oauth2.Token{
			AccessToken: "live",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour),
		}},
	}}
	svc := NewService(store, fakeGoogleConfig{enabled: true}, "s", logger.NewNop())

	ts, ok, err := svc.TokenSource(context.Background(), userID)
	if err != nil || !ok {
		t.Fatalf("expected connected token source, got ok=%v err=%v", ok, err)
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "live" {
		t.Fatalf("expected stored token, got %v (%v)", tok, err)
	}
	if store.saves != 0 {
		t.Fatalf("unrefreshed token must not be re-saved")
	}
}
