package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only when it still carries our token, so an
// expired-and-reacquired lock is never released by the previous holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Locker is a TTL-bounded advisory exclusive lock over redis (SET NX PX).
// The TTL is the abandonment bound: a crashed holder's lock expires on its
// own and the next acquirer proceeds.
type Locker struct {
	Client *redis.Client
}

type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the named lock or returns ErrNotAcquired immediately.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.Client == nil {
		return nil, errors.New("lock: no redis client")
	}
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.Client, key: key, token: token}, nil
}

// Release frees the lock if this holder still owns it. Safe to call after
// expiry; the token check makes it a no-op then.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || lk.client == nil {
		return nil
	}
	return lk.client.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Err()
}
