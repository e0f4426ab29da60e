package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"leadflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const outboxTaskRetention = time.Hour

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueOutboxSend hands a claimed outbox row to the asynq workers. The task
// id is the outbox id so a row is queued at most once per claim.
func (c *Client) EnqueueOutboxSend(ctx context.Context, outboxID, lockToken uuid.UUID) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("task client not configured")
	}

	task, err := NewOutboxSendTask(OutboxSendPayload{
		OutboxID:  outboxID.String(),
		LockToken: lockToken.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(outboxID.String()+":"+lockToken.String()),
		asynq.MaxRetry(0),
		asynq.Retention(outboxTaskRetention),
	)
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

// NewRedis returns a go-redis client for the job leases, or nil when no
// Redis is configured.
func NewRedis(cfg config.SchedulerConfig) (*redis.Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if tlsConfig := tlsFor(opt, cfg.GetRedisTLSInsecure()); tlsConfig != nil {
		opt.TLSConfig = tlsConfig
	}
	return redis.NewClient(opt), nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsFor(opt, tlsInsecure),
	}, nil
}

func tlsFor(opt *redis.Options, tlsInsecure bool) *tls.Config {
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		return clone
	}
	if tlsInsecure {
		return &tls.Config{InsecureSkipVerify: true}
	}
	return nil
}
