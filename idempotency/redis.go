package idempotency

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisBeginScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]
local created_ms = ARGV[3]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "fingerprint", fingerprint, "status", "pending", "created_ms", created_ms)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return {"conflict"}
end

if redis.call("HGET", key, "status") == "completed" then
  return {"replay", redis.call("HGET", key, "response_status") or "", redis.call("HGET", key, "content_type") or "", redis.call("HGET", key, "response_body") or ""}
end

return {"in_progress"}
`)

var redisSaveScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return -1
end

redis.call("HSET", key, "status", "completed", "response_status", ARGV[3], "content_type", ARGV[4], "response_body", ARGV[5])
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

var redisReleaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "fingerprint") ~= ARGV[1] or redis.call("HGET", key, "status") ~= "pending" then
  return -1
end
redis.call("DEL", key)
return 1
`)

// RedisStore keeps records in Redis hashes. The begin script makes the
// insert-if-absent atomic, and key expiry is delegated to Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore builds a [RedisStore]; an empty prefix defaults to "acp:idem".
// Keys are stored as prefix:key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "acp:idem"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Lookup implements [Store].
func (s *RedisStore) Lookup(ctx context.Context, key string) (*Record, error) {
	if s.client == nil {
		return nil, errors.New("idempotency: redis client is nil")
	}
	rk := s.redisKey(key)
	fields, err := s.client.HGetAll(ctx, rk).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	ttl, err := s.client.PTTL(ctx, rk).Result()
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &Record{
		Key:         key,
		RequestHash: fields["fingerprint"],
		ExpiresAt:   now.Add(ttl),
	}
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms)
	}
	if fields["status"] == "completed" {
		resp, err := decodeResponse(fields["response_status"], fields["content_type"], fields["response_body"])
		if err != nil {
			return nil, err
		}
		rec.Response = resp
	}
	return rec, nil
}

// Begin implements [Store].
func (s *RedisStore) Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error) {
	if s.client == nil {
		return BeginResult{}, errors.New("idempotency: redis client is nil")
	}
	raw, err := redisBeginScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(key)},
		requestHash,
		ttl.Milliseconds(),
		s.now().UnixMilli(),
	).Result()
	if err != nil {
		return BeginResult{}, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return BeginResult{}, errors.New("idempotency: unexpected redis begin result type")
	}
	state := asString(values[0])
	switch State(state) {
	case StateNew, StateConflict, StateInProgress:
		return BeginResult{State: State(state)}, nil
	case StateReplay:
		if len(values) < 4 {
			return BeginResult{}, errors.New("idempotency: unexpected replay payload")
		}
		resp, err := decodeResponse(asString(values[1]), asString(values[2]), asString(values[3]))
		if err != nil {
			return BeginResult{}, err
		}
		return BeginResult{State: StateReplay, Cached: resp}, nil
	default:
		return BeginResult{}, fmt.Errorf("idempotency: unknown state %q", state)
	}
}

// Save implements [Store].
func (s *RedisStore) Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("idempotency: redis client is nil")
	}
	res, err := redisSaveScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(key)},
		requestHash,
		ttl.Milliseconds(),
		resp.StatusCode,
		resp.ContentType,
		base64.StdEncoding.EncodeToString(resp.Body),
	).Int()
	if err != nil {
		return err
	}
	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrHashMismatch
	}
	return nil
}

// Release implements [Store].
func (s *RedisStore) Release(ctx context.Context, key, requestHash string) error {
	if s.client == nil {
		return errors.New("idempotency: redis client is nil")
	}
	res, err := redisReleaseScript.Run(ctx, s.client, []string{s.redisKey(key)}, requestHash).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired implements [Store]. Redis evicts keys on its own.
func (s *RedisStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeResponse(status, contentType, body string) (*Response, error) {
	code, err := strconv.Atoi(status)
	if err != nil {
		return nil, fmt.Errorf("idempotency: parse replay status: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("idempotency: decode replay body: %w", err)
	}
	return &Response{StatusCode: code, ContentType: contentType, Body: decoded}, nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
