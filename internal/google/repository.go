// Package google stores per-user Google OAuth tokens and hands out Gmail
// clients for sending and reply polling.
package google

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

var ErrNotConnected = errors.New("google account not connected")

// Account is a stored Google connection.
type Account struct {
	UserID uuid.UUID
	Email  string
	Token  *oauth2.Token
}

// Repository provides pgx access to google_tokens.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new token repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the stored account or ErrNotConnected.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (Account, error) {
	var (
		acc    Account
		tok    oauth2.Token
		expiry *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, access_token, refresh_token, token_type, expiry
		FROM google_tokens WHERE user_id = $1
	`, userID).Scan(&acc.UserID, &acc.Email, &tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotConnected
	}
	if err != nil {
		return Account{}, err
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	acc.Token = &tok
	return acc, nil
}

// Save upserts a token. An empty refresh token keeps the stored one, since
// Google only returns it on the first consent.
func (r *Repository) Save(ctx context.Context, userID uuid.UUID, email string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO google_tokens (user_id, email, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), google_tokens.email),
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), google_tokens.refresh_token),
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = now()
	`, userID, email, tok.AccessToken, tok.RefreshToken, tok.Type(), expiry)
	return err
}

// Delete removes a connection.
func (r *Repository) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM google_tokens WHERE user_id = $1`, userID)
	return err
}

// ConnectedUsers lists users with stored tokens.
func (r *Repository) ConnectedUsers(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, email FROM google_tokens ORDER BY user_id LIMIT 1000
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.UserID, &acc.Email); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}
