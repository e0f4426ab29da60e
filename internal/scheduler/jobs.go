package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"github.com/robfig/cron/v3"
)

// Job names, also used as lease keys and metric labels.
const (
	JobCallRetry     = "calls.retry"
	JobEmailSequence = "email.sequence"
	JobEmailOutbox   = "email.outbox"
	JobRepliesGmail  = "replies.gmail"
	JobRepliesIMAP   = "replies.imap"
)

const callBatchSize = 25

type CallRunner interface {
	RunDueCalls(ctx context.Context, limit int) (int, error)
}

type SequenceRunner interface {
	RunSequence(ctx context.Context) (int, error)
}

type OutboxProcessor interface {
	ProcessOutbox(ctx context.Context, limit int) (int, error)
}

type Poller interface {
	Poll(ctx context.Context) (int, error)
}

// Deps are the services driven by the periodic jobs. Nil members are skipped.
type Deps struct {
	Calls    CallRunner
	Sequence SequenceRunner
	Outbox   OutboxProcessor
	Gmail    Poller
	IMAP     Poller
}

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Jobs builds the periodic job list from cfg.
func Jobs(cfg config.PollerConfig, deps Deps) []Job {
	var jobs []Job
	if deps.Calls != nil {
		jobs = append(jobs, Job{Name: JobCallRetry, Interval: cfg.GetCallPollInterval(), Run: func(ctx context.Context) (int, error) {
			return deps.Calls.RunDueCalls(ctx, callBatchSize)
		}})
	}
	if deps.Sequence != nil && cfg.IsEmailSequenceSchedulerEnabled() {
		jobs = append(jobs, Job{Name: JobEmailSequence, Interval: cfg.GetEmailStepsInterval(), Run: deps.Sequence.RunSequence})
	}
	if deps.Outbox != nil {
		batch := cfg.GetOutboxBatchSize()
		if batch < 1 {
			batch = 25
		}
		jobs = append(jobs, Job{Name: JobEmailOutbox, Interval: cfg.GetOutboxInterval(), Run: func(ctx context.Context) (int, error) {
			return deps.Outbox.ProcessOutbox(ctx, batch)
		}})
	}
	if deps.Gmail != nil {
		jobs = append(jobs, Job{Name: JobRepliesGmail, Interval: cfg.GetReplyPollInterval(), Run: deps.Gmail.Poll})
	}
	if deps.IMAP != nil {
		jobs = append(jobs, Job{Name: JobRepliesIMAP, Interval: cfg.GetReplyPollInterval(), Run: deps.IMAP.Poll})
	}
	return jobs
}

// Runner ticks the periodic jobs on a cron schedule. A tick that is still
// running when the next one fires is skipped, and across processes a Redis
// lease lets only one replica run a given job at a time.
type Runner struct {
	cron    *cron.Cron
	leaser  *Leaser
	metrics *metrics.Metrics
	log     *logger.Logger
	jobs    []Job
	base    context.Context
	cancel  context.CancelFunc
}

func NewRunner(jobs []Job, leaser *Leaser, m *metrics.Metrics, log *logger.Logger) *Runner {
	cl := cronLogger{log: log}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		leaser:  leaser,
		metrics: m,
		log:     log,
		jobs:    jobs,
		base:    base,
		cancel:  cancel,
	}
}

// Start registers every job and starts the cron loop.
func (r *Runner) Start() error {
	for _, job := range r.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", job.Name)
		}
		if _, err := r.cron.AddFunc("@every "+job.Interval.String(), func() { r.Tick(r.base, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		r.log.Info("scheduled job", "job", job.Name, "interval", job.Interval.String())
	}
	r.cron.Start()
	return nil
}

// Stop cancels in-flight ticks and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}

// Tick runs job once under its lease. The lease outlives the tick bound so a
// slow run is never overlapped by another replica.
func (r *Runner) Tick(ctx context.Context, job Job) {
	lease, ok, err := r.leaser.Acquire(ctx, job.Name, 2*job.Interval)
	if err != nil {
		r.log.Warn("job lease failed", "job", job.Name, "error", err)
		return
	}
	if !ok {
		r.log.Debug("job held elsewhere", "job", job.Name)
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("job lease release failed", "job", job.Name, "error", err)
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, job.Interval)
	defer cancel()

	start := time.Now()
	processed, err := job.Run(tickCtx)
	elapsed := time.Since(start)
	r.metrics.PollerTick(job.Name, elapsed)
	if err != nil {
		r.log.Error("job tick failed", "job", job.Name, "error", err)
	}
	r.log.PollerTick(job.Name, processed, float64(elapsed.Microseconds())/1000)
}

// cronLogger routes cron's own messages through the structured logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
