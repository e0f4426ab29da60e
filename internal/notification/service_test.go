package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/internal/notification/outbox"

	"github.com/google/uuid"
)

func TestEnqueueIsIdempotentPerStep(t *testing.T) {
	campaignID := uuid.New()
	lead := newLead(&campaignID)
	h := newHarness(t, lead)
	ctx := context.Background()

	first, err := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, CampaignID: &campaignID, Step: 2})
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if !first.Queued || first.IdemKey != lead.ID.String()+":step:"+campaignID.String()+":2" {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, CampaignID: &campaignID, Step: 2})
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if second.Queued || second.Reason != EnqueueAlreadyQueued {
		t.Fatalf(fmtReason, EnqueueAlreadyQueued, second.Reason)
	}
	if h.box.count() != 1 {
		t.Fatalf("expected one outbox row, got %d", h.box.count())
	}

	row := h.box.byKey(first.IdemKey)
	if row.ToEmail != "ann@example.com" {
		t.Fatalf("recipient must be lower-cased, got %q", row.ToEmail)
	}
	if row.Subject != "Ann, quick intro" {
		t.Fatalf("expected default subject rendered, got %q", row.Subject)
	}
}

func TestEnqueueRejectsInvalidAddress(t *testing.T) {
	lead := newLead(nil)
	lead.Email = "not-an-address"
	h := newHarness(t, lead)

	res, err := h.svc.Enqueue(context.Background(), EnqueueRequest{Lead: lead, Step: 2})
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if res.Queued || res.Reason != EnqueueInvalidTo {
		t.Fatalf(fmtReason, EnqueueInvalidTo, res.Reason)
	}
	if h.box.count() != 0 {
		t.Fatalf("invalid recipient must not be queued")
	}
}

func TestProcessOutboxSendsAndStampsFirstEmail(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	ctx := context.Background()

	res, err := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 1, IdemKey: InitialIdemKey(lead.ID)})
	if err != nil || !res.Queued {
		t.Fatalf("enqueue failed: %+v %v", res, err)
	}

	n, err := h.svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if n != 1 {
		t.Fatalf("expected one claimed row, got %d", n)
	}

	sent := h.mailer.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	wantReplyTo := "outreach+" + lead.ID.String() + "@acme.io"
	if sent[0].msg.ReplyTo != wantReplyTo {
		t.Fatalf("expected reply-to %q, got %q", wantReplyTo, sent[0].msg.ReplyTo)
	}
	if sent[0].userID != lead.UserID {
		t.Fatalf("message must go through the lead owner's channel")
	}

	if row := h.box.byKey(res.IdemKey); row.Status != outbox.StatusSent {
		t.Fatalf("expected row sent, got %s", row.Status)
	}
	entries := h.logs.all()
	if len(entries) != 1 || entries[0].Status != emaillog.StatusSent || *entries[0].Notes != outboxNote {
		t.Fatalf("expected one mirrored log entry, got %+v", entries)
	}
	if got := h.leads.lead(lead.ID); got.EmailedAt == nil {
		t.Fatalf("first email must stamp emailed_at")
	}

	// A second tick finds nothing due.
	if n, _ := h.svc.ProcessOutbox(ctx, 10); n != 0 {
		t.Fatalf("sent rows must not be claimed again, got %d", n)
	}
}

func TestProcessOutboxFollowUpKeepsEmailedAt(t *testing.T) {
	campaignID := uuid.New()
	lead := newLead(&campaignID)
	h := newHarness(t, lead)
	ctx := context.Background()

	if _, err := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, CampaignID: &campaignID, Step: 3}); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	got := h.leads.lead(lead.ID)
	if got.EmailedAt != nil {
		t.Fatalf("follow-up steps must not stamp emailed_at")
	}
	if got.LastEmailStatus == nil || *got.LastEmailStatus != domain.EmailStatusSent {
		t.Fatalf("expected last_email_status sent, got %v", got.LastEmailStatus)
	}
}

func TestProcessOutboxRequeuesOnSendFailure(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	h.mailer.err = errors.New("smtp 421 try later")
	ctx := context.Background()

	res, _ := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 2})
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}

	row := h.box.byKey(res.IdemKey)
	if row.Status != outbox.StatusQueued {
		t.Fatalf("expected row back in queue, got %s", row.Status)
	}
	if !row.SendAfter.Equal(h.now.Add(sendBackoff)) {
		t.Fatalf("expected retry at %s, got %s", h.now.Add(sendBackoff), row.SendAfter)
	}
	if row.Attempts != 1 || row.LastError == nil || !strings.Contains(*row.LastError, "421") {
		t.Fatalf("expected attempt and error recorded, got %+v", row)
	}
	if len(h.logs.all()) != 0 {
		t.Fatalf("failed outbox sends are not mirrored")
	}
}

func TestProcessOutboxRequeuesWhenLeadMissing(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 2})
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	row := h.box.byKey(res.IdemKey)
	if row.Status != outbox.StatusQueued || !row.SendAfter.Equal(h.now.Add(leadLookupBackoff)) {
		t.Fatalf("expected requeue after lead lookup backoff, got %+v", row)
	}
	if len(h.mailer.messages()) != 0 {
		t.Fatalf("nothing may be sent without the lead")
	}
}

func TestProcessOutboxSkipsStoppedSequence(t *testing.T) {
	campaignID := uuid.New()
	lead := newLead(&campaignID)
	h := newHarness(t, lead)
	ctx := context.Background()

	followUp, _ := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, CampaignID: &campaignID, Step: 2})
	initial, _ := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 1, IdemKey: InitialIdemKey(lead.ID)})

	// The lead replies after both rows were queued.
	h.leads.mu.Lock()
	h.leads.leads[lead.ID].EmailSequenceStopped = true
	h.leads.mu.Unlock()

	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if row := h.box.byKey(followUp.IdemKey); row.Status != outbox.StatusSkipped {
		t.Fatalf("expected follow-up skipped, got %s", row.Status)
	}
	if row := h.box.byKey(initial.IdemKey); row.Status != outbox.StatusSent {
		t.Fatalf("initial step is not part of the sequence, got %s", row.Status)
	}
}

func TestProcessOutboxLostClaimSendsNothing(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	h.box.stealClaims = true
	ctx := context.Background()

	if _, err := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 2}); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	n, err := h.svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if n != 0 || len(h.mailer.messages()) != 0 {
		t.Fatalf("a lost claim must stand down, claimed=%d sent=%d", n, len(h.mailer.messages()))
	}
}

func TestProcessOutboxFansOutToTasks(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	tasks := &fakeTasks{}
	h.svc.SetTaskEnqueuer(tasks)
	ctx := context.Background()

	res, _ := h.svc.Enqueue(ctx, EnqueueRequest{Lead: lead, Step: 2})
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if len(h.mailer.messages()) != 0 {
		t.Fatalf("fanned out rows are sent by the task handler")
	}

	row := h.box.byKey(res.IdemKey)
	token, ok := tasks.claimed[row.ID]
	if !ok {
		t.Fatalf("expected a task for the claimed row")
	}

	// A stale token is ignored.
	if err := h.svc.DeliverClaimed(ctx, row.ID, uuid.New()); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if len(h.mailer.messages()) != 0 {
		t.Fatalf("a foreign token must not send")
	}

	if err := h.svc.DeliverClaimed(ctx, row.ID, token); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if len(h.mailer.messages()) != 1 || h.box.byKey(res.IdemKey).Status != outbox.StatusSent {
		t.Fatalf("expected the task to deliver the row")
	}
}

// =============================================================================
// Direct send
// =============================================================================

func TestSendInitialDeclines(t *testing.T) {
	disabledCampaign := uuid.New()
	tests := []struct {
		name   string
		setup  func(h *harness, lead *domain.Lead)
		reason string
	}{
		{
			name:   "kill switch",
			setup:  func(h *harness, _ *domain.Lead) { h.cfg.enabled = false },
			reason: ReasonSendingDisabled,
		},
		{
			name: "campaign toggle",
			setup: func(h *harness, lead *domain.Lead) {
				rules := campaigns.DefaultRules()
				rules.SendEmail = false
				h.camps.rules[disabledCampaign] = rules
				lead.CampaignID = &disabledCampaign
			},
			reason: ReasonDisabledByRules,
		},
		{
			name:   "bad address",
			setup:  func(_ *harness, lead *domain.Lead) { lead.Email = "ann@" },
			reason: ReasonInvalidTo,
		},
		{
			name:   "daily cap",
			setup:  func(h *harness, _ *domain.Lead) { h.logs.sentToday = 150 },
			reason: ReasonThrottled,
		},
		{
			name: "already sent",
			setup: func(h *harness, lead *domain.Lead) {
				h.logs.reservations[InitialIdemKey(lead.ID)] = &reservation{status: emaillog.StatusSent}
			},
			reason: ReasonDuplicate,
		},
		{
			name: "in flight elsewhere",
			setup: func(h *harness, lead *domain.Lead) {
				h.logs.reservations[InitialIdemKey(lead.ID)] = &reservation{status: emaillog.StatusSending, token: uuid.New()}
			},
			reason: ReasonDuplicateReserved,
		},
		{
			name:   "no channel",
			setup:  func(h *harness, _ *domain.Lead) { h.mailer.err = email.ErrNoChannel },
			reason: ReasonNoChannel,
		},
		{
			name:   "transport error",
			setup:  func(h *harness, _ *domain.Lead) { h.mailer.err = errors.New("dial tcp: timeout") },
			reason: ReasonSendFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead := newLead(nil)
			h := newHarness(t)
			tt.setup(h, &lead)
			h.leads.leads[lead.ID] = &lead

			res, err := h.svc.SendInitial(context.Background(), lead, nil)
			if err != nil {
				t.Fatalf(fmtUnexpectedErr, err)
			}
			if res.Sent || res.Reason != tt.reason {
				t.Fatalf(fmtReason, tt.reason, res.Reason)
			}
			if got := h.leads.lead(lead.ID); got.EmailedAt != nil {
				t.Fatalf("declined send must not stamp emailed_at")
			}
		})
	}
}

func TestSendInitialSendsOnceAndRetakesFailedReservation(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	h.mailer.err = errors.New("temporary failure")
	ctx := context.Background()

	res, err := h.svc.SendInitial(ctx, lead, nil)
	if err != nil || res.Reason != ReasonSendFailed {
		t.Fatalf("expected first attempt to fail, got %+v %v", res, err)
	}
	if got := h.leads.lead(lead.ID); got.LastEmailStatus == nil || *got.LastEmailStatus != emaillog.StatusFailed {
		t.Fatalf("expected failed email status, got %v", got.LastEmailStatus)
	}

	h.mailer.err = nil
	res, err = h.svc.SendInitial(ctx, lead, nil)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if !res.Sent || res.Provider != email.ProviderSMTP {
		t.Fatalf("expected retry to send, got %+v", res)
	}
	if got := h.leads.lead(lead.ID); got.EmailedAt == nil {
		t.Fatalf("successful initial email must stamp emailed_at")
	}

	res, _ = h.svc.SendInitial(ctx, lead, nil)
	if res.Sent || res.Reason != ReasonDuplicate {
		t.Fatalf(fmtReason, ReasonDuplicate, res.Reason)
	}
	if len(h.mailer.messages()) != 1 {
		t.Fatalf("expected exactly one delivered email, got %d", len(h.mailer.messages()))
	}
}

func TestProcessOutboxReleasesStaleReservation(t *testing.T) {
	lead := newLead(nil)
	h := newHarness(t, lead)
	ctx := context.Background()

	// A worker reserved the initial send and died before finalizing it.
	if _, ok, err := h.logs.Reserve(ctx, emaillog.Reservation{IdemKey: InitialIdemKey(lead.ID), ToEmail: "ann@example.com"}); err != nil || !ok {
		t.Fatalf("expected reservation, got %v %v", ok, err)
	}
	res, err := h.svc.SendInitial(ctx, lead, nil)
	if err != nil || res.Reason != ReasonDuplicateReserved {
		t.Fatalf("expected live reservation to block, got %+v %v", res, err)
	}

	h.now = h.now.Add(staleClaimAfter - time.Minute)
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if res, _ = h.svc.SendInitial(ctx, lead, nil); res.Reason != ReasonDuplicateReserved {
		t.Fatalf("a fresh reservation must not be released, got %+v", res)
	}

	h.now = h.now.Add(2 * time.Minute)
	if _, err := h.svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	res, err = h.svc.SendInitial(ctx, lead, nil)
	if err != nil || !res.Sent {
		t.Fatalf("expected the released reservation to be taken again, got %+v %v", res, err)
	}
	if len(h.mailer.messages()) != 1 {
		t.Fatalf("expected one delivered email, got %d", len(h.mailer.messages()))
	}
}

func TestSendTestUsesSampleLead(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	templateID := uuid.New()
	h.camps.templates[templateID] = campaigns.Template{ID: templateID, Subject: "Hello {first_name}", Body: "From {company} {unknown}"}

	res, err := h.svc.SendTest(context.Background(), userID, "QA@Example.com", &templateID)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if !res.Sent || res.To != "qa@example.com" {
		t.Fatalf("expected test email sent, got %+v", res)
	}
	msg := h.mailer.messages()[0].msg
	if msg.Subject != "Hello Alex" || msg.Body != "From Example Company {unknown}" {
		t.Fatalf("unexpected rendering %q / %q", msg.Subject, msg.Body)
	}
	if msg.ReplyTo != "" {
		t.Fatalf("test email has no lead to correlate replies with")
	}
}

// =============================================================================
// Sequence
// =============================================================================

func TestRunSequenceEnqueuesDueStepsAndRecordsNext(t *testing.T) {
	campaignID := uuid.New()
	lead := newLead(&campaignID)
	h := newHarness(t, lead)
	emailedAt := h.now.Add(-3 * 24 * time.Hour)
	h.leads.leads[lead.ID].EmailedAt = &emailedAt

	twoDays, fiveDays := 2*24*60, 5*24*60
	h.camps.steps = []campaigns.Step{
		{CampaignID: campaignID, StepNumber: 2, OffsetMinutes: &twoDays, Subject: "Following up, {first_name}", Body: "Any thoughts?"},
		{CampaignID: campaignID, StepNumber: 3, OffsetMinutes: &fiveDays},
	}

	n, err := h.svc.RunSequence(context.Background())
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if n != 1 {
		t.Fatalf("expected one queued step, got %d", n)
	}
	row := h.box.byKey(StepIdemKey(lead.ID, &campaignID, 2))
	if row.Subject != "Following up, Ann" {
		t.Fatalf("expected step copy rendered, got %q", row.Subject)
	}

	next := h.leads.lead(lead.ID).NextEmailAt
	want := emailedAt.Add(5 * 24 * time.Hour)
	if next == nil || !next.Equal(want) {
		t.Fatalf("expected next email at %s, got %v", want, next)
	}

	// A second run queues nothing new.
	if n, _ := h.svc.RunSequence(context.Background()); n != 0 {
		t.Fatalf("due step must be queued once, got %d", n)
	}
}

func TestRunSequenceHonoursCampaignToggleAndStop(t *testing.T) {
	campaignID := uuid.New()
	stopped := newLead(&campaignID)
	stopped.EmailSequenceStopped = true
	h := newHarness(t, stopped)
	past := h.now.Add(-time.Hour)
	h.camps.steps = []campaigns.Step{{CampaignID: campaignID, StepNumber: 2, SendAt: &past}}

	if n, _ := h.svc.RunSequence(context.Background()); n != 0 {
		t.Fatalf("stopped lead must not be scheduled, got %d", n)
	}

	active := newLead(&campaignID)
	h.leads.leads[active.ID] = &active
	rules := campaigns.DefaultRules()
	rules.SendEmail = false
	h.camps.rules[campaignID] = rules
	if n, _ := h.svc.RunSequence(context.Background()); n != 0 {
		t.Fatalf("disabled campaign must not be scheduled, got %d", n)
	}

	delete(h.camps.rules, campaignID)
	if n, _ := h.svc.RunSequence(context.Background()); n != 1 {
		t.Fatalf("expected the active lead scheduled, got %d", n)
	}
}

func TestStepSchedule(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Hour)
	offset := 60
	emailed := now.Add(-30 * time.Minute)

	if due, _ := stepSchedule(campaigns.Step{SendAt: &past}, domain.Lead{}, now); !due {
		t.Fatalf("absolute send_at in the past is due")
	}
	if due, next := stepSchedule(campaigns.Step{SendAt: &future}, domain.Lead{}, now); due || next == nil || !next.Equal(future) {
		t.Fatalf("future send_at is upcoming, got due=%v next=%v", due, next)
	}
	if due, next := stepSchedule(campaigns.Step{OffsetMinutes: &offset}, domain.Lead{}, now); due || next != nil {
		t.Fatalf("offset without emailed_at is never due")
	}
	lead := domain.Lead{EmailedAt: &emailed}
	if due, next := stepSchedule(campaigns.Step{OffsetMinutes: &offset}, lead, now); due || next == nil || !next.Equal(emailed.Add(time.Hour)) {
		t.Fatalf("offset not yet elapsed, got due=%v next=%v", due, next)
	}
	if due, _ := stepSchedule(campaigns.Step{SendAt: &future, OffsetMinutes: &offset}, domain.Lead{EmailedAt: &past}, now.Add(time.Hour)); !due {
		t.Fatalf("either trigger makes the step due")
	}
}
