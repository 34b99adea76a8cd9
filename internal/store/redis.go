package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "canvas"

// RedisStore keeps the blob under a single key. Saves are serialised
// across relay processes with a short-lived lock.
type RedisStore struct {
	rdb    *redis.Client
	locker *redislock.Client
	key    string
}

// OpenRedis connects to target. A "key" query parameter names the key
// holding the canvas (redis://host:6379/0?key=paint).
func OpenRedis(ctx context.Context, target string) (*RedisStore, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	q := u.Query()
	key := q.Get("key")
	if key == "" {
		key = defaultRedisKey
	}
	q.Del("key")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStore(rdb, key), nil
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	return &RedisStore{rdb: rdb, locker: redislock.New(rdb), key: key}
}

func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return b, nil
}

func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	}

	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("%v:lock", s.key), 30*time.Second, opts)
	if err != nil {
		return fmt.Errorf("obtain lock: %w", err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer lock.Release(context.Background())

	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
