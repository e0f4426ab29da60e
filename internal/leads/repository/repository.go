// Package repository provides pgx data access for leads and their delivery state.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLeadNotFound = errors.New("lead not found")

const leadColumns = `id, user_id, campaign_id, first_name, last_name, name, email_address, phone,
	contact_phone_numbers, company_name, company, job_title, city_name, state_name, country_name,
	status, accepted_at, call_attempts, last_call_status, next_call_at, sent_for_contact_at,
	emailed_at, last_email_status, email_sequence_stopped, next_email_at, last_reply_at,
	last_reply_from, last_reply_subject, last_reply_snippet, do_not_contact, created_at, updated_at`

// Repository provides data access for leads.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(
		&l.ID, &l.UserID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Name, &l.Email, &l.Phone,
		&l.ContactPhoneNumbers, &l.CompanyName, &l.Company, &l.JobTitle, &l.City, &l.State, &l.Country,
		&l.Status, &l.AcceptedAt, &l.CallAttempts, &l.LastCallStatus, &l.NextCallAt, &l.SentForContactAt,
		&l.EmailedAt, &l.LastEmailStatus, &l.EmailSequenceStopped, &l.NextEmailAt, &l.LastReplyAt,
		&l.LastReplyFrom, &l.LastReplySubject, &l.LastReplySnippet, &l.DoNotContact, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrLeadNotFound
	}
	return l, err
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()
	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Get loads a lead by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

// GetForUser loads a lead owned by userID.
func (r *Repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (domain.Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND user_id = $2`, id, userID))
}

// UpsertParams are the contact fields written at acceptance.
type UpsertParams struct {
	UserID              uuid.UUID
	CampaignID          *uuid.UUID
	FirstName           string
	LastName            string
	Name                string
	Email               string
	Phone               string
	ContactPhoneNumbers json.RawMessage
	CompanyName         string
	Company             json.RawMessage
	JobTitle            string
	City                string
	State               string
	Country             string
}

// UpsertAccepted inserts or refreshes a lead keyed by (user_id, email_address)
// and resets it to accepted in the given campaign. A pending retry is cleared
// so the retry poller cannot race the accept-time attempt.
func (r *Repository) UpsertAccepted(ctx context.Context, p UpsertParams) (domain.Lead, error) {
	phones := p.ContactPhoneNumbers
	if len(phones) == 0 {
		phones = json.RawMessage("[]")
	}
	company := p.Company
	if len(company) == 0 {
		company = json.RawMessage("{}")
	}

	return scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (user_id, campaign_id, first_name, last_name, name, email_address, phone,
			contact_phone_numbers, company_name, company, job_title, city_name, state_name, country_name,
			status, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'accepted', now())
		ON CONFLICT (user_id, email_address) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			contact_phone_numbers = EXCLUDED.contact_phone_numbers,
			company_name = EXCLUDED.company_name,
			company = EXCLUDED.company,
			job_title = EXCLUDED.job_title,
			city_name = EXCLUDED.city_name,
			state_name = EXCLUDED.state_name,
			country_name = EXCLUDED.country_name,
			status = 'accepted',
			accepted_at = now(),
			next_call_at = NULL,
			updated_at = now()
		RETURNING `+leadColumns,
		p.UserID, p.CampaignID, p.FirstName, p.LastName, p.Name, p.Email, p.Phone,
		phones, p.CompanyName, company, p.JobTitle, p.City, p.State, p.Country,
	))
}

// =============================================================================
// Call channel
// =============================================================================

// DueForCall returns leads whose call retry is due.
func (r *Repository) DueForCall(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status IN ('accepted', 'sent_for_contact')
			AND next_call_at IS NOT NULL
			AND next_call_at <= $1
			AND do_not_contact = false
		ORDER BY next_call_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

// ClaimDueCall clears next_call_at only if it is still set and due. false
// means another worker already took this lead.
func (r *Repository) ClaimDueCall(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET next_call_at = NULL, updated_at = now()
		WHERE id = $1 AND next_call_at IS NOT NULL AND next_call_at <= $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ScheduleCall sets the next due time and records why.
func (r *Repository) ScheduleCall(ctx context.Context, id uuid.UUID, at time.Time, marker string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET next_call_at = $2, last_call_status = $3, updated_at = now()
		WHERE id = $1
	`, id, at, marker)
	return err
}

// SetLastCallStatus records a call marker without touching scheduling.
func (r *Repository) SetLastCallStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET last_call_status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// MarkSentForContact records a successful dispatch.
func (r *Repository) MarkSentForContact(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = CASE WHEN status IN ('contacted', 'replied') THEN status ELSE 'sent_for_contact' END,
			last_call_status = 'queued',
			sent_for_contact_at = now(),
			next_call_at = NULL,
			updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// ContactedPatch holds fields parsed from a call summary.
type ContactedPatch struct {
	Name        string
	FirstName   string
	CompanyName string
}

// MarkContacted closes the call channel after a completed call.
func (r *Repository) MarkContacted(ctx context.Context, id uuid.UUID, patch ContactedPatch) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = CASE WHEN status = 'replied' THEN status ELSE 'contacted' END,
			last_call_status = 'completed',
			next_call_at = NULL,
			name = COALESCE(NULLIF($2, ''), name),
			first_name = COALESCE(NULLIF($3, ''), first_name),
			company_name = COALESCE(NULLIF($4, ''), company_name),
			updated_at = now()
		WHERE id = $1
	`, id, patch.Name, patch.FirstName, patch.CompanyName)
	return err
}

// MarkCallFailed records a hard failure and cancels any pending retry.
func (r *Repository) MarkCallFailed(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET last_call_status = $2, next_call_at = NULL, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// RetryOutcome is the result of IncrementAttempts.
type RetryOutcome struct {
	Attempts   int
	NextCallAt *time.Time
}

// IncrementAttempts atomically bumps call_attempts and either schedules the
// next retry or, at the ceiling, marks max-retries and clears scheduling.
func (r *Repository) IncrementAttempts(ctx context.Context, id uuid.UUID, maxAttempts, retryMinutes int, status string) (RetryOutcome, error) {
	var out RetryOutcome
	err := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET call_attempts = call_attempts + 1,
			last_call_status = CASE WHEN call_attempts + 1 >= $2 THEN 'max-retries' ELSE $4 END,
			next_call_at = CASE WHEN call_attempts + 1 >= $2 THEN NULL ELSE now() + make_interval(mins => $3) END,
			updated_at = now()
		WHERE id = $1
		RETURNING call_attempts, next_call_at
	`, id, maxAttempts, retryMinutes, status).Scan(&out.Attempts, &out.NextCallAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RetryOutcome{}, ErrLeadNotFound
	}
	return out, err
}

// MarkDoNotContact flags the lead and stops the email sequence.
func (r *Repository) MarkDoNotContact(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET do_not_contact = true, email_sequence_stopped = true, next_email_at = NULL,
			next_call_at = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// =============================================================================
// Email channel
// =============================================================================

// RecordEmailSent stamps emailed_at (only when first is true and it is unset)
// and always updates last_email_status.
func (r *Repository) RecordEmailSent(ctx context.Context, id uuid.UUID, first bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET emailed_at = CASE WHEN $2 AND emailed_at IS NULL THEN now() ELSE emailed_at END,
			last_email_status = 'sent',
			updated_at = now()
		WHERE id = $1
	`, id, first)
	return err
}

// SetLastEmailStatus records a non-send email outcome.
func (r *Repository) SetLastEmailStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET last_email_status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// SequenceCandidates returns leads of a campaign that may still receive follow-ups.
func (r *Repository) SequenceCandidates(ctx context.Context, campaignID uuid.UUID) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE campaign_id = $1
			AND email_sequence_stopped = false
			AND do_not_contact = false
			AND status <> 'replied'
			AND email_address <> ''
	`, campaignID)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

// SetNextEmailAt records the earliest upcoming follow-up, or clears it.
func (r *Repository) SetNextEmailAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET next_email_at = $2, updated_at = now()
		WHERE id = $1 AND email_sequence_stopped = false
	`, id, at)
	return err
}

// =============================================================================
// Replies
// =============================================================================

// ReplySnapshot is the reply metadata stored on the lead.
type ReplySnapshot struct {
	From    string
	Subject string
	Snippet string
	At      time.Time
}

// RecordReply marks the lead replied and permanently stops its sequence.
func (r *Repository) RecordReply(ctx context.Context, id uuid.UUID, snap ReplySnapshot) (domain.Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET status = 'replied',
			last_email_status = 'reply',
			email_sequence_stopped = true,
			next_email_at = NULL,
			last_email_reply_at = $2,
			last_reply_at = $2,
			last_reply_from = $3,
			last_reply_subject = $4,
			last_reply_snippet = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns,
		id, snap.At, snap.From, snap.Subject, snap.Snippet,
	))
}
