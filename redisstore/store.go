// Package redisstore implements kv.ScriptingStore on Redis.
//
// The atomic lock runs as a Lua script. Servers that cannot run scripts
// (older than 2.6, or with SCRIPT disabled) are detected by the probe and
// gaspar falls back to SETNX followed by EXPIRE.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(client)
package redisstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	gotick "github.com/go-tick/core"
	"github.com/go-tick/gaspar/kv"
	"github.com/redis/go-redis/v9"
)

var _ kv.ScriptingStore = (*Store)(nil)

// acquireLock clears a key left without a TTL, then creates and expires it.
var acquireLock = redis.NewScript(`
if redis.call('TTL', KEYS[1]) == -1 then
	redis.call('DEL', KEYS[1])
end
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

type Store struct {
	client    redis.Cmdable
	scripting bool
}

// WithoutScripting makes the probe report no scripting support regardless
// of the server.
func WithoutScripting() gotick.Option[Store] {
	return func(s *Store) {
		s.scripting = false
	}
}

// New wraps client. The caller owns the client's lifecycle.
func New(client redis.Cmdable, options ...gotick.Option[Store]) *Store {
	s := &Store{client: client, scripting: true}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Store) Client() redis.Cmdable {
	return s.client
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis: setnx %q", key)
	}
	return ok, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, seconds(ttl)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis: expire %q", key)
	}
	return ok, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "redis: get %q", key)
	}
	return value, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis: ttl %q", key)
	}

	// go-redis reports the sentinels as raw nanoseconds, older versions as seconds.
	switch ttl {
	case -1, -time.Second:
		return kv.NoExpiry, nil
	case -2, -2 * time.Second:
		return kv.KeyAbsent, nil
	}

	return ttl, nil
}

// SupportsScripting loads the lock script. A Redis error reply means the
// server refuses scripts; any other failure is returned.
func (s *Store) SupportsScripting(ctx context.Context) (bool, error) {
	if !s.scripting {
		return false, nil
	}

	err := acquireLock.Load(ctx, s.client).Err()
	if err == nil {
		return true, nil
	}

	var reply redis.Error
	if errors.As(err, &reply) {
		return false, nil
	}

	return false, errors.Wrap(err, "redis: script load")
}

func (s *Store) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := acquireLock.Run(ctx, s.client, []string{key}, value, kv.Seconds(ttl)).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis: acquire lock %q", key)
	}
	return n == 1, nil
}

func seconds(ttl time.Duration) time.Duration {
	return time.Duration(kv.Seconds(ttl)) * time.Second
}
