package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// OutboxDeliverer sends one claimed outbox row.
type OutboxDeliverer interface {
	DeliverClaimed(ctx context.Context, id, lockToken uuid.UUID) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	outbox OutboxDeliverer
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, outbox OutboxDeliverer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		outbox: outbox,
		log:    log,
	}

	mux.HandleFunc(TaskOutboxSend, w.handleOutboxSend)

	return w, nil
}

func (w *Worker) handleOutboxSend(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboxSendPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return fmt.Errorf("%w: outbox id: %v", asynq.SkipRetry, err)
	}

	token, err := uuid.Parse(payload.LockToken)
	if err != nil {
		return fmt.Errorf("%w: lock token: %v", asynq.SkipRetry, err)
	}

	// Failures are requeued on the row itself; asynq must not resend.
	if err := w.outbox.DeliverClaimed(ctx, outboxID, token); err != nil {
		w.log.Error("outbox delivery failed", "outboxId", outboxID, "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if err := w.server.Start(w.mux); err != nil {
		w.log.Error("outbox worker failed to start", "error", err)
		return
	}
	<-ctx.Done()
	w.server.Shutdown()
}
