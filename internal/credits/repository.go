// Package credits provides the shared prepaid call-credit ledger.
// Balances are keyed by organization domain, derived from the owner's email.
package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerEntry is one immutable audit row for a balance mutation.
type LedgerEntry struct {
	Domain string
	Delta  int64
	Reason string
	Meta   map[string]any
}

// UsageParams identifies one billable call.
type UsageParams struct {
	ExternalCallID  string
	Domain          string
	LeadID          uuid.UUID
	DurationSeconds int
	Credits         int64
}

// Repository provides data access for balances, the ledger and call usage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new credits repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OwnerEmail returns the email address of a user, empty when the user is unknown.
func (r *Repository) OwnerEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return email, err
}

// Balance reads the balance for domain. A missing row is a zero balance.
func (r *Repository) Balance(ctx context.Context, domain string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM credit_balances WHERE domain = $1`, domain).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Increment atomically adds amount, creating the row when absent.
func (r *Repository) Increment(ctx context.Context, domain string, amount int64) (int64, error) {
	return increment(ctx, r.pool, domain, amount)
}

// Decrement atomically subtracts amount, floored at zero.
func (r *Repository) Decrement(ctx context.Context, domain string, amount int64) (int64, error) {
	return decrement(ctx, r.pool, domain, amount)
}

// AppendLedger writes an audit row.
func (r *Repository) AppendLedger(ctx context.Context, entry LedgerEntry) error {
	meta, err := marshalMeta(entry.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO credit_ledger (domain, delta, reason, meta)
		VALUES ($1, $2, $3, $4)
	`, entry.Domain, entry.Delta, entry.Reason, meta)
	return err
}

// RecordUsageAndSpend inserts the call_usage row and, only when this call has
// not been billed before, decrements the balance in the same transaction.
// applied is false for a duplicate.
func (r *Repository) RecordUsageAndSpend(ctx context.Context, p UsageParams) (applied bool, balance int64, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var leadID *uuid.UUID
	if p.LeadID != uuid.Nil {
		leadID = &p.LeadID
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO call_usage (external_call_id, domain, lead_id, duration_seconds, credits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_call_id) DO NOTHING
	`, p.ExternalCallID, p.Domain, leadID, p.DurationSeconds, p.Credits)
	if err != nil {
		return false, 0, fmt.Errorf("insert call usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, 0, nil
	}

	balance, err = decrement(ctx, tx, p.Domain, p.Credits)
	if err != nil {
		return false, 0, fmt.Errorf("spend credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, balance, nil
}

// ApplyCheckout records a Stripe checkout in the ledger and increments the
// balance once per session id.
func (r *Repository) ApplyCheckout(ctx context.Context, entry LedgerEntry, sessionID string) (applied bool, balance int64, err error) {
	if entry.Meta == nil {
		entry.Meta = map[string]any{}
	}
	entry.Meta["stripe_session_id"] = sessionID
	meta, err := marshalMeta(entry.Meta)
	if err != nil {
		return false, 0, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_ledger (domain, delta, reason, meta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ((meta->>'stripe_session_id')) WHERE reason = 'stripe_checkout' DO NOTHING
	`, entry.Domain, entry.Delta, entry.Reason, meta)
	if err != nil {
		return false, 0, fmt.Errorf("insert ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, 0, nil
	}

	balance, err = increment(ctx, tx, entry.Domain, entry.Delta)
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, balance, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func increment(ctx context.Context, q querier, domain string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		INSERT INTO credit_balances (domain, balance)
		VALUES ($1, $2)
		ON CONFLICT (domain) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, domain, amount).Scan(&balance)
	return balance, err
}

func decrement(ctx context.Context, q querier, domain string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE credit_balances
		SET balance = GREATEST(balance - $2, 0), updated_at = now()
		WHERE domain = $1
		RETURNING balance
	`, domain, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger meta: %w", err)
	}
	return data, nil
}
