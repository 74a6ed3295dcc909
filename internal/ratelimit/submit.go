package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/printmeter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keySubmit = "import:submit:%s"

// SubmitLimiter throttles CSV submissions per client. It is nil when rate
// limiting is disabled, which callers treat as always-allow.
type SubmitLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

func NewSubmitLimiter(cfg config.Config, log *zap.Logger) *SubmitLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: limitCfg.RedisPassword,
	})

	return &SubmitLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit.submit"),
		rate:   limitCfg.SubmitRate,
		burst:  limitCfg.SubmitBurst,
	}
}

// Allow reports whether the client may submit another batch. Redis errors
// allow the request and are only logged.
func (l *SubmitLimiter) Allow(ctx context.Context, clientKey string) bool {
	if l == nil {
		return true
	}
	result, err := l.bucket.Take(ctx,
		fmt.Sprintf(keySubmit, clientKey),
		l.rate, l.burst, 10*time.Minute,
	)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.Error(err))
		return true
	}
	return result.Allowed
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewSubmitLimiter),
)
