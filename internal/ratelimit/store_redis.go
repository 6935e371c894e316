package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript adds one to the window's count only when the stored window
// is still the one the caller read and it has room. Returns -1 otherwise.
var incrementScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
if not start or start ~= ARGV[1] then
	return -1
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count >= tonumber(ARGV[2]) then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'count', 1)
`)

// RedisStore keeps each window as a hash that expires with the window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "aiscan:ratelimit"}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(ip, endpoint string) string {
	return s.prefix + ":" + endpoint + ":" + ip
}

func (s *RedisStore) LatestWindow(ctx context.Context, ip, endpoint string, since time.Time) (Window, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(ip, endpoint)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Window{}, false, nil
		}
		return Window{}, false, err
	}
	if len(fields) == 0 {
		return Window{}, false, nil
	}

	startNanos, err := strconv.ParseInt(fields["start"], 10, 64)
	if err != nil {
		return Window{}, false, fmt.Errorf("corrupt window start %q: %w", fields["start"], err)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return Window{}, false, fmt.Errorf("corrupt window count %q: %w", fields["count"], err)
	}

	start := time.Unix(0, startNanos)
	if start.Before(since) {
		return Window{}, false, nil
	}
	return Window{ID: startNanos, Count: count, Start: start}, true, nil
}

func (s *RedisStore) CreateWindow(ctx context.Context, ip, endpoint string, start time.Time, window time.Duration) (Window, error) {
	key := s.key(ip, endpoint)
	startNanos := start.UnixNano()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "start", startNanos, "count", 1)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Window{}, err
	}
	return Window{ID: startNanos, Count: 1, Start: time.Unix(0, startNanos)}, nil
}

func (s *RedisStore) IncrementWindow(ctx context.Context, ip, endpoint string, w Window, max int) (int, bool, error) {
	n, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(ip, endpoint)},
		strconv.FormatInt(w.ID, 10), max,
	).Int64()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return w.Count, false, nil
	}
	return int(n), true, nil
}

var _ Store = (*RedisStore)(nil)
