// Package idempotency remembers which resource a client-supplied
// Idempotency-Key produced, so retried requests replay instead of repeating.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed request can block its key.
const DefaultLockTTL = 30 * time.Second

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	rdb     *redis.Client
	scope   string
	ttl     time.Duration
	lockTTL time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisStore keeps results for ttl. Keys are namespaced by scope so
// several endpoints can share one Redis database.
func NewRedisStore(rdb *redis.Client, scope string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		scope:   scope,
		ttl:     ttl,
		lockTTL: DefaultLockTTL,
		tokens:  make(map[string]string),
	}
}

func (s *RedisStore) lockKey(key string) string {
	return "idemp:lock:" + s.scope + ":" + key
}

func (s *RedisStore) resultKey(key string) string {
	return "idemp:result:" + s.scope + ":" + key
}

// TryLock claims key for one in-flight request. It returns false when
// another request already holds it.
func (s *RedisStore) TryLock(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()

	ok, err := s.rdb.SetNX(ctx, s.lockKey(key), token, s.lockTTL).Result()
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()
	return true, nil
}

// Unlock releases a lock taken by this store. A lock that expired and was
// claimed by another request is left alone.
func (s *RedisStore) Unlock(ctx context.Context, key string) error {
	s.mu.Lock()
	token, ok := s.tokens[key]
	delete(s.tokens, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return unlockScript.Run(ctx, s.rdb, []string{s.lockKey(key)}, token).Err()
}

func (s *RedisStore) Remember(ctx context.Context, key, resourceID string) error {
	return s.rdb.Set(ctx, s.resultKey(key), resourceID, s.ttl).Err()
}

func (s *RedisStore) Recall(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.resultKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
