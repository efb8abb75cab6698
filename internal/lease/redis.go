package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "queuecall:lease:"

// renewScript extends the key only while it still names the caller.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis stores one key per counter holding the owning instance's id.
type Redis struct {
	rdb    redis.Cmdable
	holder string
	ttl    time.Duration
}

// NewRedis returns leases held as holder on rdb.
func NewRedis(rdb redis.Cmdable, holder string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, holder: holder, ttl: ttl}
}

func key(counterID string) string { return keyPrefix + counterID }

// Acquire sets the key if it is free, or extends it if we already hold it.
func (r *Redis) Acquire(ctx context.Context, counterID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key(counterID), r.holder, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", counterID, err)
	}

	if ok {
		return true, nil
	}

	return r.Renew(ctx, counterID)
}

// Renew extends the key while it still names this holder.
func (r *Redis) Renew(ctx context.Context, counterID string) (bool, error) {
	n, err := renewScript.Run(ctx, r.rdb, []string{key(counterID)}, r.holder, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renewing lease %s: %w", counterID, err)
	}

	return n == 1, nil
}

// Release deletes the key if this holder owns it.
func (r *Redis) Release(ctx context.Context, counterID string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{key(counterID)}, r.holder).Err(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", counterID, err)
	}

	return nil
}

// TTL returns the lease duration.
func (r *Redis) TTL() time.Duration { return r.ttl }
