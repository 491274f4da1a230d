// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package reconstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep compare-and-swap and conditional delete to a single
// round trip each, so concurrent schedulers sharing one Redis never
// interleave between read and write.

// casPutLua
//
//	KEYS: 1=record key
//	ARGV: 1=expected value ('' means create-if-absent), 2=new value, 3=ttl_ms (0 disables expiry)
const casPutLua = `
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
  if cur then return 0 end
else
  if (not cur) or (cur ~= ARGV[1]) then return 0 end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`

// deleteIfBelowLua
//
//	KEYS: 1=record key
//	ARGV: 1=threshold, 2=half_life_seconds, 3=now_unix
const deleteIfBelowLua = `
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local ok, rec = pcall(cjson.decode, raw)
if not ok then
  redis.call('DEL', KEYS[1])
  return 1
end
local score = tonumber(rec['score'])
local age = tonumber(ARGV[3]) - tonumber(rec['last_update_ts'])
if age > 0 then
  score = score * math.pow(2, -age / tonumber(ARGV[2]))
end
if score < tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`

// RedisBackend stores recon state in Redis, suitable when several
// scheduler instances share detection state.
type RedisBackend struct {
	client        *redis.Client
	casPut        *redis.Script
	deleteIfBelow *redis.Script
}

// OpenRedis connects to the given redis:// or rediss:// URL and
// verifies the connection with a ping.
func OpenRedis(ctx context.Context, rawURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	opts.MaxRetries = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisBackend{
		client:        client,
		casPut:        redis.NewScript(casPutLua),
		deleteIfBelow: redis.NewScript(deleteIfBelowLua),
	}, nil
}

// NewRedisBackend wraps an existing client, used by tests against
// miniredis.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client:        client,
		casPut:        redis.NewScript(casPutLua),
		deleteIfBelow: redis.NewScript(deleteIfBelowLua),
	}
}

// Name identifies the backend in logs and metrics.
func (b *RedisBackend) Name() string { return "redis" }

// Get returns the raw record for key.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// PutCAS runs the compare-and-swap script.
func (b *RedisBackend) PutCAS(ctx context.Context, key string, old, new []byte, ttl time.Duration) error {
	oldArg := ""
	if old != nil {
		oldArg = string(old)
	}
	res, err := b.casPut.Run(ctx, b.client, []string{key},
		oldArg, string(new), strconv.FormatInt(ttl.Milliseconds(), 10)).Int()
	if err != nil {
		return fmt.Errorf("redis cas put: %w", err)
	}
	if res == 0 {
		return ErrCASConflict
	}
	return nil
}

// DeleteIfBelow runs the decay-then-delete script.
func (b *RedisBackend) DeleteIfBelow(ctx context.Context, key string, threshold float64, halfLife time.Duration, now time.Time) (bool, error) {
	res, err := b.deleteIfBelow.Run(ctx, b.client, []string{key},
		strconv.FormatFloat(threshold, 'f', -1, 64),
		strconv.FormatFloat(halfLife.Seconds(), 'f', -1, 64),
		strconv.FormatInt(now.Unix(), 10)).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete-if-below: %w", err)
	}
	return res == 1, nil
}

// Close releases the client connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
