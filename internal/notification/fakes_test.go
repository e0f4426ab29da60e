package notification

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/internal/notification/outbox"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/google/uuid"
)

const (
	senderAddress    = "outreach@acme.io"
	fmtUnexpectedErr = "unexpected error %v"
	fmtReason        = "expected reason %q, got %q"
)

// =============================================================================
// Leads
// =============================================================================

type fakeLeads struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]*domain.Lead
	firstSent []uuid.UUID
	nextEmail map[uuid.UUID]*time.Time
}

func newFakeLeads(leads ...domain.Lead) *fakeLeads {
	f := &fakeLeads{leads: map[uuid.UUID]*domain.Lead{}, nextEmail: map[uuid.UUID]*time.Time{}}
	for i := range leads {
		l := leads[i]
		f.leads[l.ID] = &l
	}
	return f
}

func (f *fakeLeads) lead(id uuid.UUID) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.leads[id]
}

func (f *fakeLeads) Get(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrLeadNotFound
	}
	return *l, nil
}

func (f *fakeLeads) RecordEmailSent(_ context.Context, id uuid.UUID, first bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := domain.EmailStatusSent
	l := f.leads[id]
	l.LastEmailStatus = &sent
	if first && l.EmailedAt == nil {
		now := time.Now()
		l.EmailedAt = &now
		f.firstSent = append(f.firstSent, id)
	}
	return nil
}

func (f *fakeLeads) SetLastEmailStatus(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id].LastEmailStatus = &status
	return nil
}

func (f *fakeLeads) SequenceCandidates(_ context.Context, campaignID uuid.UUID) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Lead
	for _, l := range f.leads {
		if l.CampaignID != nil && *l.CampaignID == campaignID && !l.EmailSequenceStopped && l.Status != domain.StatusReplied {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeLeads) SetNextEmailAt(_ context.Context, id uuid.UUID, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id].NextEmailAt = at
	f.nextEmail[id] = at
	return nil
}

// =============================================================================
// Campaigns
// =============================================================================

type fakeCampaigns struct {
	campaigns map[uuid.UUID]campaigns.Campaign
	templates map[uuid.UUID]campaigns.Template
	latest    map[uuid.UUID]campaigns.Template
	rules     map[uuid.UUID]campaigns.Rules
	steps     []campaigns.Step
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{
		campaigns: map[uuid.UUID]campaigns.Campaign{},
		templates: map[uuid.UUID]campaigns.Template{},
		latest:    map[uuid.UUID]campaigns.Template{},
		rules:     map[uuid.UUID]campaigns.Rules{},
	}
}

func (f *fakeCampaigns) Campaign(_ context.Context, id uuid.UUID) (campaigns.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return campaigns.Campaign{}, campaigns.ErrCampaignNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) Rules(_ context.Context, id *uuid.UUID) campaigns.Rules {
	if id == nil {
		return campaigns.DefaultRules()
	}
	if r, ok := f.rules[*id]; ok {
		return r
	}
	return campaigns.DefaultRules()
}

func (f *fakeCampaigns) FollowUpSteps(context.Context) ([]campaigns.Step, error) {
	return f.steps, nil
}

func (f *fakeCampaigns) Template(_ context.Context, id uuid.UUID) (campaigns.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return campaigns.Template{}, campaigns.ErrTemplateNotFound
	}
	return t, nil
}

func (f *fakeCampaigns) LatestActiveTemplate(_ context.Context, userID uuid.UUID) (campaigns.Template, error) {
	t, ok := f.latest[userID]
	if !ok {
		return campaigns.Template{}, campaigns.ErrTemplateNotFound
	}
	return t, nil
}

// =============================================================================
// Outbox
// =============================================================================

type fakeOutbox struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*outbox.Record
	keys        map[string]uuid.UUID
	stealClaims bool
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rows: map[uuid.UUID]*outbox.Record{}, keys: map[string]uuid.UUID{}}
}

func (f *fakeOutbox) byKey(key string) outbox.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[f.keys[key]]
}

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeOutbox) Insert(_ context.Context, p outbox.InsertParams) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[p.IdemKey]; ok {
		return uuid.Nil, false, nil
	}
	id := uuid.New()
	f.rows[id] = &outbox.Record{
		ID:         id,
		IdemKey:    p.IdemKey,
		LeadID:     p.LeadID,
		CampaignID: p.CampaignID,
		UserID:     p.UserID,
		StepNumber: p.StepNumber,
		ToEmail:    p.ToEmail,
		Subject:    p.Subject,
		Body:       p.Body,
		Status:     outbox.StatusQueued,
		SendAfter:  p.SendAfter,
	}
	f.keys[p.IdemKey] = id
	return id, true, nil
}

func (f *fakeOutbox) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeOutbox) Due(_ context.Context, now time.Time, limit int) ([]outbox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.Record
	for _, r := range f.rows {
		if r.Status == outbox.StatusQueued && !r.SendAfter.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAfter.Before(out[j].SendAfter) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOutbox) Claim(_ context.Context, id, token uuid.UUID) (outbox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	if f.stealClaims || r.Status != outbox.StatusQueued {
		return outbox.Record{}, outbox.ErrClaimLost
	}
	r.Status = outbox.StatusSending
	r.LockToken = &token
	r.Attempts++
	return *r, nil
}

func (f *fakeOutbox) owned(id, token uuid.UUID) *outbox.Record {
	r, ok := f.rows[id]
	if !ok || r.Status != outbox.StatusSending || r.LockToken == nil || *r.LockToken != token {
		return nil
	}
	return r
}

func (f *fakeOutbox) GetClaimed(_ context.Context, id, token uuid.UUID) (outbox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.owned(id, token)
	if r == nil {
		return outbox.Record{}, outbox.ErrClaimLost
	}
	return *r, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id, token uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.owned(id, token)
	if r == nil {
		return false, nil
	}
	r.Status = outbox.StatusSent
	return true, nil
}

func (f *fakeOutbox) Requeue(_ context.Context, id, token uuid.UUID, after time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.owned(id, token); r != nil {
		r.Status = outbox.StatusQueued
		r.LockToken = nil
		r.SendAfter = after
		r.LastError = &lastError
	}
	return nil
}

func (f *fakeOutbox) MarkSkipped(_ context.Context, id, token uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.owned(id, token); r != nil {
		r.Status = outbox.StatusSkipped
		r.LastError = &reason
	}
	return nil
}

func (f *fakeOutbox) ReleaseStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeOutbox) CancelQueuedForLead(_ context.Context, leadID uuid.UUID, fromStep int, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.LeadID == leadID && r.StepNumber >= fromStep && r.Status == outbox.StatusQueued {
			r.Status = outbox.StatusSkipped
			r.LastError = &reason
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Email log
// =============================================================================

type reservation struct {
	status string
	token  uuid.UUID
	at     time.Time
}

type fakeLogs struct {
	mu           sync.Mutex
	entries      []emaillog.Entry
	reservations map[string]*reservation
	sentToday    int
	now          func() time.Time
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{reservations: map[string]*reservation{}, now: time.Now}
}

func (f *fakeLogs) all() []emaillog.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emaillog.Entry(nil), f.entries...)
}

func (f *fakeLogs) Append(_ context.Context, e emaillog.Entry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.IdemKey != nil {
		for _, existing := range f.entries {
			if existing.IdemKey != nil && *existing.IdemKey == *e.IdemKey {
				return false, nil
			}
		}
	}
	f.entries = append(f.entries, e)
	return true, nil
}

func (f *fakeLogs) Reserve(_ context.Context, r emaillog.Reservation) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.reservations[r.IdemKey]; ok && existing.status != emaillog.StatusFailed {
		return uuid.Nil, false, nil
	}
	token := uuid.New()
	f.reservations[r.IdemKey] = &reservation{status: emaillog.StatusSending, token: token, at: f.now()}
	return token, true, nil
}

func (f *fakeLogs) ReleaseStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.reservations {
		if r.status == emaillog.StatusSending && r.at.Before(cutoff) {
			r.status = emaillog.StatusFailed
			n++
		}
	}
	return n, nil
}

func (f *fakeLogs) Finalize(_ context.Context, key string, token uuid.UUID, out emaillog.Outcome) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[key]
	if !ok || r.token != token || r.status != emaillog.StatusSending {
		return false, nil
	}
	r.status = out.Status
	return true, nil
}

func (f *fakeLogs) Sent(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[key]
	return ok && r.status == emaillog.StatusSent, nil
}

func (f *fakeLogs) CountSentSince(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentToday, nil
}

// =============================================================================
// Mailer, config, tasks
// =============================================================================

type sentMail struct {
	userID uuid.UUID
	msg    email.Message
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (f *fakeMailer) Send(_ context.Context, userID uuid.UUID, msg email.Message) (email.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return email.Receipt{}, f.err
	}
	f.sent = append(f.sent, sentMail{userID: userID, msg: msg})
	return email.Receipt{Provider: email.ProviderSMTP, MessageID: "<m1@acme.io>"}, nil
}

func (f *fakeMailer) FromAddress() string { return senderAddress }

func (f *fakeMailer) messages() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeEmailConfig struct {
	enabled     bool
	maxPerDay   int
	replyDomain string
}

func (c fakeEmailConfig) GetEmailSendingEnabled() bool { return c.enabled }
func (c fakeEmailConfig) GetEmailFromAddress() string  { return senderAddress }
func (c fakeEmailConfig) GetEmailFromName() string     { return "Acme" }
func (c fakeEmailConfig) GetEmailAppPassword() string  { return "" }
func (c fakeEmailConfig) GetSMTPHost() string          { return "smtp.example.com" }
func (c fakeEmailConfig) GetSMTPPort() int             { return 587 }
func (c fakeEmailConfig) GetAllowSMTPFallback() bool   { return true }
func (c fakeEmailConfig) GetMaxEmailsPerDay() int      { return c.maxPerDay }
func (c fakeEmailConfig) GetReplyToDomain() string     { return c.replyDomain }

type fakeTasks struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]uuid.UUID
}

func (f *fakeTasks) EnqueueOutboxSend(_ context.Context, id, token uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = map[uuid.UUID]uuid.UUID{}
	}
	f.claimed[id] = token
	return nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	svc    *Service
	leads  *fakeLeads
	camps  *fakeCampaigns
	box    *fakeOutbox
	logs   *fakeLogs
	mailer *fakeMailer
	cfg    *fakeEmailConfig
	now    time.Time
}

func newHarness(t *testing.T, leads ...domain.Lead) *harness {
	t.Helper()
	h := &harness{
		leads:  newFakeLeads(leads...),
		camps:  newFakeCampaigns(),
		box:    newFakeOutbox(),
		logs:   newFakeLogs(),
		mailer: &fakeMailer{},
		cfg:    &fakeEmailConfig{enabled: true, maxPerDay: 150},
		now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(h.leads, h.camps, h.box, h.logs, h.mailer, h.cfg, validator.New(), nil, logger.NewNop())
	h.svc.now = func() time.Time { return h.now }
	h.logs.now = h.svc.now
	return h
}

func newLead(campaignID *uuid.UUID) domain.Lead {
	return domain.Lead{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		CampaignID:  campaignID,
		FirstName:   "Ann",
		LastName:    "Lee",
		CompanyName: "Acme BV",
		Email:       "Ann@Example.com",
		Status:      domain.StatusAccepted,
	}
}
