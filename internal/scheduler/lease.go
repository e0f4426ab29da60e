package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "leadflow:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leaser grants a job tick to one process at a time.
type Leaser struct {
	rdb *redis.Client
}

func NewLeaser(rdb *redis.Client) *Leaser {
	return &Leaser{rdb: rdb}
}

// Lease is a held job lock. Release is safe to call on a nil Lease.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the lock for job, or returns ok=false when another process
// holds it. Without Redis every caller gets an empty lease; the per-row claims
// in the database still serialize the actual work.
func (l *Leaser) Acquire(ctx context.Context, job string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.rdb == nil {
		return nil, true, nil
	}

	key := leaseKeyPrefix + job
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{rdb: l.rdb, key: key, token: token}, true, nil
}

// Release drops the lock if it is still ours.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	err := releaseScript.Run(ctx, ls.rdb, []string{ls.key}, ls.token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
