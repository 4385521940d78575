/**
 * @description
 * Redis-backed implementations of the two injected hot-path stores: the
 * distributed rate limiter for the public resume endpoint and the TTL
 * detection cache for verification challenges. Both fail open — a Redis
 * outage degrades to "no limit" / "no dedupe", never to a blocked resume or
 * a lost suspension.
 */

package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var resumeRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisResumeRateLimiter implements distributed rate limiting using Redis.
type RedisResumeRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisResumeRateLimiter(client redis.UniversalClient, prefix string) *RedisResumeRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "campseat:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisResumeRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// ConsumeRateLimit counts one attempt in the (scope, subject) window and
// reports the running total. INCR plus a first-hit PEXPIRE inside one Lua
// script keeps the window atomic across instances.
func (r *RedisResumeRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := resumeRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}

// RedisDetectionCache remembers recent verification detections per request in
// Redis. Previously this lived as an in-process map on a shared handler
// instance, which broke with more than one service replica; an external TTL
// store keeps the service itself stateless.
type RedisDetectionCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDetectionCache(client redis.UniversalClient, prefix string) *RedisDetectionCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "campseat:verification"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisDetectionCache{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (c *RedisDetectionCache) key(requestID uuid.UUID) string {
	return fmt.Sprintf("%s:detected:%s", c.prefix, requestID)
}

// MarkDetected records a verification detection for the given window.
func (c *RedisDetectionCache) MarkDetected(ctx context.Context, requestID uuid.UUID, ttl time.Duration) error {
	if c == nil || c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(requestID), "1", ttl).Err()
}

// RecentlyDetected reports whether a detection is still inside its window.
func (c *RedisDetectionCache) RecentlyDetected(ctx context.Context, requestID uuid.UUID) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, c.key(requestID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
