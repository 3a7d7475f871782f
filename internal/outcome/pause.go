package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// PauseList is the Redis-backed set of city/carrier segments calibration
// has paused. The protocol engine consults it before planning; entries
// expire on TTL so a forgotten pause never silences a segment forever.
type PauseList struct {
	redis *redis.Client
}

// NewPauseList creates a pause list over the given Redis client.
func NewPauseList(redisClient *redis.Client) *PauseList {
	return &PauseList{redis: redisClient}
}

func pauseKey(city, carrier string) string {
	return fmt.Sprintf("pause:segment:%s|%s", city, carrier)
}

// Pause marks a segment paused for the given duration.
func (p *PauseList) Pause(ctx context.Context, city, carrier, reason string, ttl time.Duration) error {
	if p.redis == nil {
		return fmt.Errorf("pause segment: redis not configured")
	}
	if err := p.redis.Set(ctx, pauseKey(city, carrier), reason, ttl).Err(); err != nil {
		return fmt.Errorf("pause segment: %w", err)
	}
	logger.Info("segment paused",
		"city", city,
		"carrier", carrier,
		"reason", reason,
		"ttl", ttl.String())
	return nil
}

// Unpause lifts a pause early.
func (p *PauseList) Unpause(ctx context.Context, city, carrier string) error {
	if p.redis == nil {
		return fmt.Errorf("unpause segment: redis not configured")
	}
	if err := p.redis.Del(ctx, pauseKey(city, carrier)).Err(); err != nil {
		return fmt.Errorf("unpause segment: %w", err)
	}
	return nil
}

// IsPaused reports whether the segment is currently paused. Redis being
// unreachable fails open: planning proceeds rather than stalling the
// whole engine.
func (p *PauseList) IsPaused(ctx context.Context, city, carrier string) bool {
	if p.redis == nil {
		return false
	}
	n, err := p.redis.Exists(ctx, pauseKey(city, carrier)).Result()
	if err != nil {
		logger.Warn("pause list unavailable, failing open", "error", err.Error())
		return false
	}
	return n > 0
}
