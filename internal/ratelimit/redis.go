package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "ratelimit:"
	defaultRedisTimeout = 500 * time.Millisecond

	fieldCount   = "count"
	fieldResetAt = "reset_at"
	fieldBlocked = "blocked"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var hitScript = redis.NewScript(fixedWindowSource)

// RedisStore shares entries between replicas through Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "ratelimit:").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTimeout bounds the Redis round trip made by one Store call.
func WithTimeout(timeout time.Duration) RedisOption {
	return func(s *RedisStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewRedisStore pings Redis and loads the counting script before returning
// the store.
func NewRedisStore(client *redis.Client, options ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	store := &RedisStore{
		client:  client,
		prefix:  defaultRedisPrefix,
		timeout: defaultRedisTimeout,
	}
	for _, option := range options {
		option(store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if err := hitScript.Load(ctx, client).Err(); err != nil {
		return nil, fmt.Errorf("load rate limit script: %w", err)
	}
	return store, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return decodeEntry(fields)
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, config Config) (Entry, Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), config.Window.Milliseconds(), config.MaxRequests).Int64Slice()
	if err != nil {
		return Entry{}, OutcomeAllowed, fmt.Errorf("hit %s: %w", key, err)
	}
	if len(values) != 4 {
		return Entry{}, OutcomeAllowed, fmt.Errorf("hit %s: unexpected script reply %v", key, values)
	}
	entry := Entry{
		Count:     int(values[0]),
		ResetTime: time.UnixMilli(values[1]),
		Blocked:   values[2] == 1,
	}
	return entry, Outcome(values[3]), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteExpired is a no-op: keys carry their own expiry.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decodeEntry(fields map[string]string) (Entry, bool, error) {
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	count, err := strconv.Atoi(fields[fieldCount])
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", fieldCount, err)
	}
	resetAtMillis, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", fieldResetAt, err)
	}
	return Entry{
		Count:     count,
		ResetTime: time.UnixMilli(resetAtMillis),
		Blocked:   fields[fieldBlocked] == "1",
	}, true, nil
}
