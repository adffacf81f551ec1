package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/stylora/stylora/internal/config"
)

const keyDeductUser = "ledger:deduct:user:%d"

// DeductLimiter throttles spend attempts per user ahead of the ledger.
// Without redis configured it is a nil no-op that allows everything;
// quota correctness never depends on it.
type DeductLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewDeductLimiter(cfg config.Config, client *redis.Client) *DeductLimiter {
	if client == nil {
		return nil
	}
	if cfg.DeductRate <= 0 || cfg.DeductBurst <= 0 {
		return nil
	}
	return &DeductLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.DeductRate,
		burst:  cfg.DeductBurst,
	}
}

func (l *DeductLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *DeductLimiter) Allow(ctx context.Context, userID snowflake.ID) (AllowResult, error) {
	if !l.Enabled() {
		return AllowResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDeductUser, userID.Int64()), l.rate, l.burst)
}

// NewRedisClient builds the shared redis client, or nil when no
// address is configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}
