package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimits defines the three independent send limits.
type RateLimits struct {
	GlobalPerMinute int
	PerPhonePerDay  int
	AbsolutePerDay  int
}

// Decision is the rate limiter's verdict for one send.
type Decision struct {
	Allowed bool
	Scope   string // which limit denied: "global_minute", "phone_day", "absolute_day"
}

// RateLimiter enforces send limits with atomic Redis Lua scripts.
// GET → check → INCR as separate commands would let two concurrent sends
// both pass a check that should have blocked the second; the script checks
// every scope and increments all counters in one atomic step.
type RateLimiter struct {
	redis  *redis.Client
	limits RateLimits
	script *redis.Script
}

// Checks all three scopes BEFORE incrementing any counter, so a denial
// leaves every counter untouched.
const rateLimitLuaScript = `
local minuteKey = KEYS[1]
local phoneKey = KEYS[2]
local dailyKey = KEYS[3]
local minuteLimit = tonumber(ARGV[1])
local phoneLimit = tonumber(ARGV[2])
local dailyLimit = tonumber(ARGV[3])
local minuteTTL = tonumber(ARGV[4])
local dayTTL = tonumber(ARGV[5])

local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local phoneCurrent = tonumber(redis.call("GET", phoneKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if minCurrent + 1 > minuteLimit then
    return {0, 1}
end
if phoneCurrent + 1 > phoneLimit then
    return {0, 2}
end
if dayCurrent + 1 > dailyLimit then
    return {0, 3}
end

local newMin = redis.call("INCR", minuteKey)
if newMin == 1 then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newPhone = redis.call("INCR", phoneKey)
if newPhone == 1 then
    redis.call("EXPIRE", phoneKey, dayTTL)
end

local newDay = redis.call("INCR", dailyKey)
if newDay == 1 then
    redis.call("EXPIRE", dailyKey, dayTTL)
end

return {1, 0}
`

// NewRateLimiter creates a rate limiter with a pre-compiled Lua script.
func NewRateLimiter(redisClient *redis.Client, limits RateLimits) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limits: limits,
		script: redis.NewScript(rateLimitLuaScript),
	}
}

// Allow atomically checks and claims one send slot for the given phone
// hash. Counters only move when every scope allows the send.
func (r *RateLimiter) Allow(ctx context.Context, phoneHash string) (Decision, error) {
	now := time.Now()

	minuteKey := fmt.Sprintf("ratelimit:wa:min:%d", now.Unix()/60)
	phoneKey := fmt.Sprintf("ratelimit:wa:phone:%s:%s", phoneHash, now.Format("2006-01-02"))
	dailyKey := fmt.Sprintf("ratelimit:wa:day:%s", now.Format("2006-01-02"))

	result, err := r.script.Run(ctx, r.redis,
		[]string{minuteKey, phoneKey, dailyKey},
		r.limits.GlobalPerMinute,
		r.limits.PerPhonePerDay,
		r.limits.AbsolutePerDay,
		120,   // minute TTL
		90000, // daily TTL (25 hours)
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	if result[0].(int64) == 1 {
		return Decision{Allowed: true}, nil
	}

	scope := ""
	switch result[1].(int64) {
	case 1:
		scope = "global_minute"
	case 2:
		scope = "phone_day"
	case 3:
		scope = "absolute_day"
	}
	return Decision{Allowed: false, Scope: scope}, nil
}
