package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld       = errors.New("lock held by another owner")
	ErrInvalidLockKey = errors.New("invalid lock key or ttl")
)

// Deleting by key alone could drop a lease that expired and was re-taken by
// another instance, so ownership is compared inside redis.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 2 * time.Second

// Locker keeps background sweeps to a single instance across the fleet.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is an acquired lock. It lapses on its own once the ttl passes.
type Lease struct {
	locker *Locker
	key    string
	owner  string
}

// Acquire returns ErrLockHeld when someone else owns key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil {
		return nil, ErrNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, ErrInvalidLockKey
	}

	owner := uuid.NewString()
	won, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrLockHeld
	}
	return &Lease{locker: l, key: key, owner: owner}, nil
}

// Release gives the lease back. It still runs after ctx is cancelled, since
// a job that hit its deadline should not hold the key until the ttl lapses.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return compareAndDelete.Run(ctx, lease.locker.client, []string{lease.key}, lease.owner).Err()
}

func (lease *Lease) Key() string {
	if lease == nil {
		return ""
	}
	return lease.key
}
