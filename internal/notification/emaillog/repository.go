// Package emaillog is the append-only record of every email sent, skipped or
// received, and the reservation primitive that keeps direct sends at most once.
package emaillog

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Statuses stored in email_logs.status.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusReply   = "reply"
)

const maxTextLength = 500

// Entry is one email_logs row.
type Entry struct {
	ID                uuid.UUID  `json:"id"`
	LeadID            *uuid.UUID `json:"leadId,omitempty"`
	ToEmail           string     `json:"toEmail"`
	Status            string     `json:"status"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	Provider          string     `json:"provider"`
	Error             *string    `json:"error,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	IdemKey           *string    `json:"idemKey,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Reservation claims an idempotency key before a direct send.
type Reservation struct {
	IdemKey string
	LeadID  *uuid.UUID
	ToEmail string
	Subject string
	Body    string
	Notes   string
}

// Outcome finalizes a reservation.
type Outcome struct {
	Status            string
	Provider          string
	ProviderMessageID string
	Error             string
}

// Repository provides data access for email_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new email log repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts a log row. A row whose idempotency key already exists is
// dropped and inserted is false.
func (r *Repository) Append(ctx context.Context, e Entry) (inserted bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO email_logs (lead_id, to_email, status, subject, body, provider, error, notes, idem_key, provider_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idem_key) DO NOTHING
	`, e.LeadID, e.ToEmail, e.Status, e.Subject, e.Body, e.Provider, clip(e.Error), e.Notes, e.IdemKey, e.ProviderMessageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Reserve takes ownership of an idempotency key. A key whose earlier attempt
// failed can be taken again; a key that is sending or sent cannot.
func (r *Repository) Reserve(ctx context.Context, res Reservation) (token uuid.UUID, ok bool, err error) {
	token = uuid.New()
	err = r.pool.QueryRow(ctx, `
		INSERT INTO email_logs (lead_id, to_email, status, subject, body, idem_key, lock_token, notes)
		VALUES ($1, $2, 'sending', $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (idem_key) DO UPDATE
		SET status = 'sending', lock_token = EXCLUDED.lock_token, error = NULL,
			subject = EXCLUDED.subject, body = EXCLUDED.body, created_at = now()
		WHERE email_logs.status = 'failed'
		RETURNING lock_token
	`, res.LeadID, res.ToEmail, res.Subject, res.Body, res.IdemKey, token, res.Notes).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return token, true, nil
}

// ReleaseStale fails reservations left in sending since before cutoff, e.g.
// after a crash between Reserve and Finalize, so Reserve can take them again.
func (r *Repository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE email_logs
		SET status = 'failed', lock_token = NULL, error = 'released stale reservation'
		WHERE status = 'sending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Finalize records the outcome of a reserved send. won is false when the
// token no longer owns the reservation.
func (r *Repository) Finalize(ctx context.Context, idemKey string, token uuid.UUID, out Outcome) (won bool, err error) {
	var errText *string
	if out.Error != "" {
		errText = &out.Error
	}
	var msgID *string
	if out.ProviderMessageID != "" {
		msgID = &out.ProviderMessageID
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE email_logs
		SET status = $3, provider = $4, provider_message_id = $5, error = $6, lock_token = NULL
		WHERE idem_key = $1 AND lock_token = $2 AND status = 'sending'
	`, idemKey, token, out.Status, out.Provider, msgID, clip(errText))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Sent reports whether the idempotency key already produced a delivered email.
func (r *Repository) Sent(ctx context.Context, idemKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM email_logs WHERE idem_key = $1 AND status = 'sent')
	`, idemKey).Scan(&exists)
	return exists, err
}

// Seen reports whether any row carries the idempotency key.
func (r *Repository) Seen(ctx context.Context, idemKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM email_logs WHERE idem_key = $1)
	`, idemKey).Scan(&exists)
	return exists, err
}

// CountSentSince counts emails delivered through a real channel since the instant.
func (r *Repository) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM email_logs
		WHERE status = 'sent' AND created_at >= $1 AND provider IN ('gmail_api', 'smtp')
	`, since).Scan(&n)
	return n, err
}

// ListForLead returns the newest log rows of a lead, optionally since an instant.
func (r *Repository) ListForLead(ctx context.Context, leadID uuid.UUID, since *time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, to_email, status, subject, body, provider, error, notes, idem_key, provider_message_id, created_at
		FROM email_logs
		WHERE lead_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, leadID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.ToEmail, &e.Status, &e.Subject, &e.Body, &e.Provider,
			&e.Error, &e.Notes, &e.IdemKey, &e.ProviderMessageID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func clip(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitize.Truncate(*s, maxTextLength)
	return &v
}

// StartOfDayUTC returns midnight UTC of the day containing t.
func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
