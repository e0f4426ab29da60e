package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLeaseIsExclusiveUntilReleased(t *testing.T) {
	mr, rdb := newTestRedis(t)
	leaser := NewLeaser(rdb)
	ctx := context.Background()

	first, ok, err := leaser.Acquire(ctx, JobEmailOutbox, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(leaseKeyPrefix+JobEmailOutbox))

	_, ok, err = leaser.Acquire(ctx, JobEmailOutbox, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(leaseKeyPrefix+JobEmailOutbox))

	_, ok, err = leaser.Acquire(ctx, JobEmailOutbox, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseReleaseKeepsForeignLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	leaser := NewLeaser(rdb)
	ctx := context.Background()

	lease, ok, err := leaser.Acquire(ctx, JobCallRetry, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired and taken over by another replica.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(leaseKeyPrefix+JobCallRetry, "other"))

	require.NoError(t, lease.Release(ctx))
	got, err := mr.Get(leaseKeyPrefix + JobCallRetry)
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestLeaseWithoutRedis(t *testing.T) {
	var leaser *Leaser
	lease, ok, err := leaser.Acquire(context.Background(), JobRepliesGmail, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, lease.Release(context.Background()))
}

func TestTickSkipsWhenLeaseHeld(t *testing.T) {
	_, rdb := newTestRedis(t)
	leaser := NewLeaser(rdb)
	var runs int32
	job := Job{Name: JobRepliesIMAP, Interval: time.Minute, Run: func(context.Context) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 1, nil
	}}
	r := NewRunner([]Job{job}, leaser, nil, logger.NewNop())

	held, ok, err := leaser.Acquire(context.Background(), job.Name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r.Tick(context.Background(), job)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	require.NoError(t, held.Release(context.Background()))
	r.Tick(context.Background(), job)
	r.Tick(context.Background(), job)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs), "the lease must be released after each tick")
}

func TestTickBoundsRunByInterval(t *testing.T) {
	var deadline time.Time
	job := Job{Name: JobCallRetry, Interval: 50 * time.Millisecond, Run: func(ctx context.Context) (int, error) {
		deadline, _ = ctx.Deadline()
		return 0, errors.New("boom")
	}}
	r := NewRunner(nil, nil, nil, logger.NewNop())

	start := time.Now()
	r.Tick(context.Background(), job)
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, start.Add(job.Interval), deadline, 40*time.Millisecond)
}

type fakePollerConfig struct {
	sequence bool
	batch    int
}

func (fakePollerConfig) GetCallPollInterval() time.Duration   { return time.Minute }
func (fakePollerConfig) GetEmailStepsInterval() time.Duration { return 5 * time.Minute }
func (fakePollerConfig) GetOutboxInterval() time.Duration     { return 30 * time.Second }
func (fakePollerConfig) GetReplyPollInterval() time.Duration  { return 2 * time.Minute }
func (f fakePollerConfig) GetOutboxBatchSize() int            { return f.batch }
func (f fakePollerConfig) IsEmailSequenceSchedulerEnabled() bool {
	return f.sequence
}

type fakeOutbox struct{ limit int }

func (f *fakeOutbox) ProcessOutbox(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return 0, nil
}

type fakeSequence struct{}

func (fakeSequence) RunSequence(context.Context) (int, error) { return 0, nil }

type fakePoller struct{}

func (fakePoller) Poll(context.Context) (int, error) { return 0, nil }

func jobNames(jobs []Job) []string {
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	return names
}

func TestJobsFollowConfig(t *testing.T) {
	outbox := &fakeOutbox{}
	deps := Deps{Sequence: fakeSequence{}, Outbox: outbox, Gmail: fakePoller{}}

	jobs := Jobs(fakePollerConfig{sequence: true, batch: 0}, deps)
	assert.Equal(t, []string{JobEmailSequence, JobEmailOutbox, JobRepliesGmail}, jobNames(jobs))

	_, err := jobs[1].Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, outbox.limit, "a non-positive batch size falls back to the default")

	jobs = Jobs(fakePollerConfig{sequence: false, batch: 10}, deps)
	assert.Equal(t, []string{JobEmailOutbox, JobRepliesGmail}, jobNames(jobs))
	assert.Equal(t, 30*time.Second, jobs[0].Interval)
}

type fakeDeliverer struct {
	id, token uuid.UUID
	err       error
}

func (f *fakeDeliverer) DeliverClaimed(_ context.Context, id, token uuid.UUID) error {
	f.id, f.token = id, token
	return f.err
}

func TestHandleOutboxSend(t *testing.T) {
	d := &fakeDeliverer{}
	w := &Worker{outbox: d, log: logger.NewNop()}
	id, token := uuid.New(), uuid.New()

	task, err := NewOutboxSendTask(OutboxSendPayload{OutboxID: id.String(), LockToken: token.String()})
	require.NoError(t, err)
	require.NoError(t, w.handleOutboxSend(context.Background(), task))
	assert.Equal(t, id, d.id)
	assert.Equal(t, token, d.token)

	d.err = errors.New("smtp down")
	err = w.handleOutboxSend(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	bad := asynq.NewTask(TaskOutboxSend, []byte(`{"outboxId":"nope","lockToken":"x"}`))
	assert.ErrorIs(t, w.handleOutboxSend(context.Background(), bad), asynq.SkipRetry)
}

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", false)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	require.NotNil(t, opt.TLSConfig)
	assert.False(t, opt.TLSConfig.InsecureSkipVerify)

	opt, err = redisClientOpt("redis://localhost:6379/0", true)
	require.NoError(t, err)
	require.NotNil(t, opt.TLSConfig)
	assert.True(t, opt.TLSConfig.InsecureSkipVerify)
}
