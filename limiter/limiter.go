// Package limiter enforces the provider's connection-request allowances with
// rolling 24h and 7d windows per sender account, backed by Redis sorted sets.
// Checks are atomic Lua scripts so concurrent lead workflows sharing one
// account cannot race past the caps, and the computed wait aligns exactly
// with the moment the oldest blocking send leaves its window.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	dayWindow  = 24 * time.Hour
	weekWindow = 7 * 24 * time.Hour
)

// checkScript trims expired entries, then reports whether another send fits
// under both windows. On denial it returns the milliseconds until the oldest
// blocking entry expires.
const checkScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local dayWindow = tonumber(ARGV[2])
local weekWindow = tonumber(ARGV[3])
local dayLimit = tonumber(ARGV[4])
local weekLimit = tonumber(ARGV[5])

redis.call("ZREMRANGEBYSCORE", key, 0, now - weekWindow)

if dayLimit > 0 then
    local dayCount = redis.call("ZCOUNT", key, now - dayWindow, "+inf")
    if dayCount >= dayLimit then
        local oldest = redis.call("ZRANGEBYSCORE", key, now - dayWindow, "+inf", "WITHSCORES", "LIMIT", 0, 1)
        return {0, math.ceil(tonumber(oldest[2]) + dayWindow - now)}
    end
end

if weekLimit > 0 then
    local weekCount = redis.call("ZCARD", key)
    if weekCount >= weekLimit then
        local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
        return {0, math.ceil(tonumber(oldest[2]) + weekWindow - now)}
    end
end

return {1, 0}
`

type (
	// Limits caps successful connection requests per sender account. Zero
	// disables the corresponding window.
	Limits struct {
		PerDay  int
		PerWeek int
	}

	// Decision is the outcome of a limit check. Wait is zero when Allowed and
	// otherwise holds the exact duration until capacity frees up.
	Decision struct {
		Allowed bool
		Wait    time.Duration
	}

	// Limiter checks and records connection-request sends. Safe for
	// concurrent use.
	Limiter struct {
		rdb    *redis.Client
		limits Limits
		check  *redis.Script
		now    func() time.Time
	}
)

// New builds a Limiter on an existing Redis client.
func New(rdb *redis.Client, limits Limits) (*Limiter, error) {
	if rdb == nil {
		return nil, errors.New("limiter: redis client is required")
	}
	return &Limiter{
		rdb:    rdb,
		limits: limits,
		check:  redis.NewScript(checkScript),
		now:    time.Now,
	}, nil
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr string, limits Limits) (*Limiter, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("limiter: redis connection failed: %w", err)
	}
	return New(rdb, limits)
}

func key(accountID string) string {
	return "limits:invites:" + accountID
}

// Check reports whether the account may send another connection request now.
// It does not reserve capacity; call Record once the provider accepts the
// send.
func (l *Limiter) Check(ctx context.Context, accountID string) (*Decision, error) {
	now := l.now().UnixMilli()
	res, err := l.check.Run(ctx, l.rdb,
		[]string{key(accountID)},
		now,
		dayWindow.Milliseconds(),
		weekWindow.Milliseconds(),
		l.limits.PerDay,
		l.limits.PerWeek,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("limiter: check: %w", err)
	}
	allowed, ok1 := res[0].(int64)
	waitMs, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("limiter: unexpected script reply %v", res)
	}
	return &Decision{
		Allowed: allowed == 1,
		Wait:    time.Duration(waitMs) * time.Millisecond,
	}, nil
}

// Record counts one successful send against the account's windows.
func (l *Limiter) Record(ctx context.Context, accountID string) error {
	now := l.now().UnixMilli()
	member := fmt.Sprintf("%d:%s", now, uuid.New().String())
	pipe := l.rdb.Pipeline()
	pipe.ZAdd(ctx, key(accountID), redis.Z{Score: float64(now), Member: member})
	pipe.PExpire(ctx, key(accountID), weekWindow+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("limiter: record: %w", err)
	}
	return nil
}

// Usage returns the current counts in the daily and weekly windows.
func (l *Limiter) Usage(ctx context.Context, accountID string) (day, week int64, err error) {
	now := l.now().UnixMilli()
	pipe := l.rdb.Pipeline()
	dayCmd := pipe.ZCount(ctx, key(accountID),
		fmt.Sprintf("%d", now-dayWindow.Milliseconds()), "+inf")
	weekCmd := pipe.ZCount(ctx, key(accountID),
		fmt.Sprintf("%d", now-weekWindow.Milliseconds()), "+inf")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("limiter: usage: %w", err)
	}
	return dayCmd.Val(), weekCmd.Val(), nil
}

// Name implements health.Pinger.
func (l *Limiter) Name() string { return "redis" }

// Ping implements health.Pinger.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (l *Limiter) Close() error { return l.rdb.Close() }
