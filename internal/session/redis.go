package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix = "moviechat:session:"
	lockPrefix    = "moviechat:lock:"
	lockPoll      = 50 * time.Millisecond
)

// unlockScript deletes the lock only when it still holds our token, so an
// expired lock that another turn re-acquired is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis so several API replicas share them.
// Room locks are SET NX PX keys released with a compare-and-delete script.
type RedisStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisStore wraps rdb. ttl bounds idle sessions and lockTTL bounds a
// lock whose owner died.
func NewRedisStore(rdb redis.UniversalClient, ttl, lockTTL time.Duration) *RedisStore {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl, lockTTL: lockTTL}
}

func (r *RedisStore) Load(ctx context.Context, roomID string) (*Session, bool, error) {
	b, err := r.rdb.Get(ctx, sessionPrefix+roomID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s, err := Decode(roomID, b)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionPrefix+s.RoomID, b, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, roomID string) error {
	return r.rdb.Del(ctx, sessionPrefix+roomID).Err()
}

func (r *RedisStore) Lock(ctx context.Context, roomID string) (func(), error) {
	key := lockPrefix + roomID
	token := uuid.NewString()

	t := time.NewTicker(lockPoll)
	defer t.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if ok {
			return func() {
				// The turn's ctx may already be done; release on a fresh one.
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = unlockScript.Run(rctx, r.rdb, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLocked
		case <-t.C:
		}
	}
}
