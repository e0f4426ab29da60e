package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/internal/notification/outbox"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/validator"

	"github.com/google/uuid"
)

// LeadStore is the lead persistence used by the email channel.
type LeadStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	RecordEmailSent(ctx context.Context, id uuid.UUID, first bool) error
	SetLastEmailStatus(ctx context.Context, id uuid.UUID, status string) error
	SequenceCandidates(ctx context.Context, campaignID uuid.UUID) ([]domain.Lead, error)
	SetNextEmailAt(ctx context.Context, id uuid.UUID, at *time.Time) error
}

// CampaignSource resolves campaigns, steps and templates.
type CampaignSource interface {
	Campaign(ctx context.Context, id uuid.UUID) (campaigns.Campaign, error)
	Rules(ctx context.Context, id *uuid.UUID) campaigns.Rules
	FollowUpSteps(ctx context.Context) ([]campaigns.Step, error)
	Template(ctx context.Context, id uuid.UUID) (campaigns.Template, error)
	LatestActiveTemplate(ctx context.Context, userID uuid.UUID) (campaigns.Template, error)
}

// OutboxStore is the email_outbox persistence.
type OutboxStore interface {
	Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, bool, error)
	Exists(ctx context.Context, idemKey string) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]outbox.Record, error)
	Claim(ctx context.Context, id, token uuid.UUID) (outbox.Record, error)
	GetClaimed(ctx context.Context, id, token uuid.UUID) (outbox.Record, error)
	MarkSent(ctx context.Context, id, token uuid.UUID) (bool, error)
	Requeue(ctx context.Context, id, token uuid.UUID, after time.Time, lastError string) error
	MarkSkipped(ctx context.Context, id, token uuid.UUID, reason string) error
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
	CancelQueuedForLead(ctx context.Context, leadID uuid.UUID, fromStep int, reason string) (int64, error)
}

// LogStore is the email_logs persistence.
type LogStore interface {
	Append(ctx context.Context, e emaillog.Entry) (bool, error)
	Reserve(ctx context.Context, r emaillog.Reservation) (uuid.UUID, bool, error)
	Finalize(ctx context.Context, idemKey string, token uuid.UUID, out emaillog.Outcome) (bool, error)
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
	Sent(ctx context.Context, idemKey string) (bool, error)
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}

// Mailer delivers a message through the lead owner's channel.
type Mailer interface {
	Send(ctx context.Context, userID uuid.UUID, msg email.Message) (email.Receipt, error)
	FromAddress() string
}

// TaskEnqueuer hands a claimed outbox row to a background worker.
type TaskEnqueuer interface {
	EnqueueOutboxSend(ctx context.Context, outboxID, lockToken uuid.UUID) error
}

const (
	pathOutbox = "outbox"
	pathDirect = "direct"

	leadLookupBackoff = 5 * time.Minute
	sendBackoff       = 10 * time.Minute
	staleClaimAfter   = 15 * time.Minute
	followupStep      = 1
	firstSequenceStep = 2
	skipReasonReplied = "replied"
)

// Service owns every outbound email path: the outbox, direct sends and the
// follow-up sequence.
type Service struct {
	leads     LeadStore
	campaigns CampaignSource
	outbox    OutboxStore
	logs      LogStore
	mailer    Mailer
	tasks     TaskEnqueuer
	cfg       config.EmailConfig
	val       *validator.Validator
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates the notification service.
func NewService(leads LeadStore, camps CampaignSource, box OutboxStore, logs LogStore, mailer Mailer, cfg config.EmailConfig, val *validator.Validator, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		leads:     leads,
		campaigns: camps,
		outbox:    box,
		logs:      logs,
		mailer:    mailer,
		cfg:       cfg,
		val:       val,
		metrics:   m,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetTaskEnqueuer enables fan-out of claimed rows. Without one the worker
// sends inline.
func (s *Service) SetTaskEnqueuer(t TaskEnqueuer) {
	s.tasks = t
}

// StepIdemKey identifies one sequence step for one lead.
func StepIdemKey(leadID uuid.UUID, campaignID *uuid.UUID, step int) string {
	campaign := "none"
	if campaignID != nil {
		campaign = campaignID.String()
	}
	return fmt.Sprintf("%s:step:%s:%d", leadID, campaign, step)
}

// InitialIdemKey identifies the initial email of a lead.
func InitialIdemKey(leadID uuid.UUID) string {
	return leadID.String() + ":step:initial"
}

func callFollowupIdemKey(leadID uuid.UUID) string {
	return leadID.String() + ":step:call-followup"
}

func (s *Service) replyAddress(leadID uuid.UUID) string {
	if s.mailer == nil || leadID == uuid.Nil {
		return ""
	}
	return email.ReplyAddress(s.mailer.FromAddress(), s.cfg.GetReplyToDomain(), leadID)
}

func (s *Service) validAddress(addr string) bool {
	if addr == "" {
		return false
	}
	if s.val == nil {
		return strings.Contains(addr, "@")
	}
	return s.val.Var(addr, "required,email") == nil
}

// =============================================================================
// Enqueue
// =============================================================================

// Enqueue reasons.
const (
	EnqueueAlreadyQueued = "ALREADY_QUEUED"
	EnqueueInvalidTo     = "INVALID_TO"
)

// EnqueueRequest describes one logical email step for a lead.
type EnqueueRequest struct {
	Lead       domain.Lead
	CampaignID *uuid.UUID
	Step       int
	TemplateID *uuid.UUID
	Content    *Content // optional; resolved from the template chain when nil
	IdemKey    string   // optional; derived from lead, campaign and step when empty
	SendAfter  time.Time
}

// EnqueueResult reports whether a new outbox row was created.
type EnqueueResult struct {
	Queued  bool   `json:"queued"`
	IdemKey string `json:"idemKey"`
	Reason  string `json:"reason,omitempty"`
}

// Enqueue renders the step for the lead and stores it in the outbox. An
// existing row with the same key makes this a no-op.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	key := req.IdemKey
	if key == "" {
		key = StepIdemKey(req.Lead.ID, req.CampaignID, req.Step)
	}
	result := EnqueueResult{IdemKey: key}

	to := strings.ToLower(strings.TrimSpace(req.Lead.Email))
	if !s.validAddress(to) {
		result.Reason = EnqueueInvalidTo
		return result, nil
	}

	var content Content
	if req.Content != nil {
		content = *req.Content
	} else {
		content = s.resolveContent(ctx, req.Lead.UserID, req.CampaignID, req.TemplateID)
	}
	rendered := content.Rendered(req.Lead)

	sendAfter := req.SendAfter
	if sendAfter.IsZero() {
		sendAfter = s.now()
	}
	userID := req.Lead.UserID
	_, inserted, err := s.outbox.Insert(ctx, outbox.InsertParams{
		IdemKey:    key,
		LeadID:     req.Lead.ID,
		CampaignID: req.CampaignID,
		UserID:     &userID,
		StepNumber: req.Step,
		ToEmail:    to,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
		SendAfter:  sendAfter,
	})
	if err != nil {
		return result, fmt.Errorf("enqueue %s: %w", key, err)
	}
	if !inserted {
		result.Reason = EnqueueAlreadyQueued
		return result, nil
	}

	result.Queued = true
	s.log.Info("email enqueued", "leadId", req.Lead.ID, "idemKey", key, "step", req.Step, "template", rendered.Source)
	return result, nil
}
