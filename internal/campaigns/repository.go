package campaigns

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrTemplateNotFound = errors.New("email template not found")
)

// Campaign is a stored campaign with its rules already parsed.
type Campaign struct {
	ID              uuid.UUID
	UserID          *uuid.UUID
	Name            string
	Rules           Rules
	EmailTemplateID *uuid.UUID
	SubjectLine     string
	EmailBody       string
	EmailConfig     []byte
	Messaging       []byte
	UseEmail        bool
}

// EmailEnabled combines the campaign column toggle with the delivery rules.
func (c Campaign) EmailEnabled() bool {
	return c.UseEmail && c.Rules.SendEmail
}

// Step is one follow-up email definition.
type Step struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	StepNumber    int
	TemplateID    *uuid.UUID
	Subject       string
	Body          string
	SendAt        *time.Time
	OffsetMinutes *int
}

// Template is a stored email template.
type Template struct {
	ID      uuid.UUID
	Subject string
	Body    string
}

// Repository provides data access for campaigns, steps and templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new campaigns repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a campaign and parses its rules and caller configuration.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Campaign, error) {
	var c Campaign
	var rulesRaw, callerRaw []byte
	var subject, body *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, delivery_rules, caller, email_template_id,
			subject_line, email_body, email_config, messaging, use_email
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.Name, &rulesRaw, &callerRaw, &c.EmailTemplateID,
		&subject, &body, &c.EmailConfig, &c.Messaging, &c.UseEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, ErrCampaignNotFound
	}
	if err != nil {
		return Campaign{}, err
	}

	c.Rules = ParseRules(rulesRaw)
	c.Rules.Caller = ParseCaller(c.Rules.Caller, callerRaw)
	if subject != nil {
		c.SubjectLine = *subject
	}
	if body != nil {
		c.EmailBody = *body
	}
	return c, nil
}

// ActiveSteps returns the active steps of a campaign ordered by step number.
func (r *Repository) ActiveSteps(ctx context.Context, campaignID uuid.UUID) ([]Step, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, step_number, template_id, COALESCE(subject, ''), COALESCE(body, ''), send_at, offset_minutes
		FROM campaign_email_steps
		WHERE campaign_id = $1 AND is_active = true
		ORDER BY step_number ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

// FollowUpSteps returns active steps numbered 2 and above across all
// campaigns that still have email enabled at the column level.
func (r *Repository) FollowUpSteps(ctx context.Context) ([]Step, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.campaign_id, s.step_number, s.template_id, COALESCE(s.subject, ''), COALESCE(s.body, ''), s.send_at, s.offset_minutes
		FROM campaign_email_steps s
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE s.is_active = true AND s.step_number >= 2 AND c.use_email = true
		ORDER BY s.campaign_id, s.step_number ASC
	`)
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

func collectSteps(rows pgx.Rows) ([]Step, error) {
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StepNumber, &s.TemplateID, &s.Subject, &s.Body, &s.SendAt, &s.OffsetMinutes); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Template loads a template by id.
func (r *Repository) Template(ctx context.Context, id uuid.UUID) (Template, error) {
	var t Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, subject, body FROM email_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Subject, &t.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrTemplateNotFound
	}
	return t, err
}

// LatestActiveTemplate returns the newest active template owned by userID.
func (r *Repository) LatestActiveTemplate(ctx context.Context, userID uuid.UUID) (Template, error) {
	var t Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, subject, body
		FROM email_templates
		WHERE user_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&t.ID, &t.Subject, &t.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrTemplateNotFound
	}
	return t, err
}
