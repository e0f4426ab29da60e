package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusQueued         Status = "queued"
	StatusSending        Status = "sending"
	StatusSent           Status = "sent"
	StatusSkipped        Status = "skipped"
	errRepoNotConfigured        = "outbox repository not configured"
	maxErrorLength              = 500
)

var (
	ErrOutboxNotFound = errors.New("outbox row not found")
	// ErrClaimLost means another worker owns the row. The caller must stand down.
	ErrClaimLost = errors.New("outbox claim lost")
)

type Record struct {
	ID         uuid.UUID
	IdemKey    string
	LeadID     uuid.UUID
	CampaignID *uuid.UUID
	UserID     *uuid.UUID
	StepNumber int
	ToEmail    string
	Subject    string
	Body       string
	Status     Status
	Attempts   int
	SendAfter  time.Time
	LockToken  *uuid.UUID
	LastError  *string
	SentAt     *time.Time
}

type InsertParams struct {
	IdemKey    string
	LeadID     uuid.UUID
	CampaignID *uuid.UUID
	UserID     *uuid.UUID
	StepNumber int
	ToEmail    string
	Subject    string
	Body       string
	SendAfter  time.Time // optional; defaults to now
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, idem_key, lead_id, campaign_id, user_id, step_number, to_email, subject, body,
	status, attempts, send_after, lock_token, last_error, sent_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.ID, &rec.IdemKey, &rec.LeadID, &rec.CampaignID, &rec.UserID, &rec.StepNumber,
		&rec.ToEmail, &rec.Subject, &rec.Body, &status, &rec.Attempts, &rec.SendAfter, &rec.LockToken,
		&rec.LastError, &rec.SentAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// Insert adds a queued row. inserted is false when the idempotency key is
// already present, which is not an error.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (id uuid.UUID, inserted bool, err error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, false, errors.New(errRepoNotConfigured)
	}
	if p.IdemKey == "" {
		return uuid.Nil, false, fmt.Errorf("idemKey is required")
	}
	if p.LeadID == uuid.Nil {
		return uuid.Nil, false, fmt.Errorf("leadId is required")
	}
	if p.SendAfter.IsZero() {
		p.SendAfter = time.Now().UTC()
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO email_outbox (idem_key, lead_id, campaign_id, user_id, step_number, to_email, subject, body, send_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idem_key) DO NOTHING
		 RETURNING id`,
		p.IdemKey, p.LeadID, p.CampaignID, p.UserID, p.StepNumber, p.ToEmail, p.Subject, p.Body, p.SendAfter,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Exists reports whether a row with the idempotency key was ever enqueued.
func (r *Repository) Exists(ctx context.Context, idemKey string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_outbox WHERE idem_key = $1)`, idemKey,
	).Scan(&exists)
	return exists, err
}

// Due lists queued rows whose send_after has passed, oldest first.
func (r *Repository) Due(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 25
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM email_outbox
		 WHERE status = 'queued' AND send_after <= $1
		 ORDER BY send_after ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

// Claim moves a queued row to sending under token. ErrClaimLost when the row
// is no longer queued.
func (r *Repository) Claim(ctx context.Context, id, token uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`UPDATE email_outbox
		 SET status = 'sending', lock_token = $2, attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND status = 'queued'
		 RETURNING `+recordColumns,
		id, token,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrClaimLost
	}
	return rec, err
}

// GetClaimed loads a row still held under token.
func (r *Repository) GetClaimed(ctx context.Context, id, token uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+`
		 FROM email_outbox
		 WHERE id = $1 AND lock_token = $2 AND status = 'sending'`,
		id, token,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrClaimLost
	}
	return rec, err
}

// MarkSent finalizes a claimed row. It returns false when the token no longer
// owns the row.
func (r *Repository) MarkSent(ctx context.Context, id, token uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_outbox
		 SET status = 'sent', sent_at = now(), last_error = NULL, updated_at = now()
		 WHERE id = $1 AND lock_token = $2 AND status = 'sending'`,
		id, token,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue hands a claimed row back to the queue at after.
func (r *Repository) Requeue(ctx context.Context, id, token uuid.UUID, after time.Time, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE email_outbox
		 SET status = 'queued', lock_token = NULL, send_after = $3, last_error = $4, updated_at = now()
		 WHERE id = $1 AND lock_token = $2 AND status = 'sending'`,
		id, token, after, sanitize.Truncate(lastError, maxErrorLength),
	)
	return err
}

// MarkSkipped retires a claimed row without sending it.
func (r *Repository) MarkSkipped(ctx context.Context, id, token uuid.UUID, reason string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE email_outbox
		 SET status = 'skipped', last_error = $3, updated_at = now()
		 WHERE id = $1 AND lock_token = $2 AND status = 'sending'`,
		id, token, sanitize.Truncate(reason, maxErrorLength),
	)
	return err
}

// CancelQueuedForLead skips the lead's queued rows from step fromStep on.
// Rows a worker already claimed are left to its send-time checks.
func (r *Repository) CancelQueuedForLead(ctx context.Context, leadID uuid.UUID, fromStep int, reason string) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepoNotConfigured)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_outbox
		 SET status = 'skipped', last_error = $3, updated_at = now()
		 WHERE lead_id = $1 AND step_number >= $2 AND status = 'queued'`,
		leadID, fromStep, sanitize.Truncate(reason, maxErrorLength),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseStale requeues rows stuck in sending since before cutoff, e.g. after
// a worker crashed between claim and finalize.
func (r *Repository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepoNotConfigured)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_outbox
		 SET status = 'queued', lock_token = NULL, last_error = 'released stale claim', updated_at = now()
		 WHERE status = 'sending' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
