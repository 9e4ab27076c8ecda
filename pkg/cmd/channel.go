package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
	"github.com/nodeflow-io/nodeflow/pkg/channel/kafka"
	"github.com/nodeflow-io/nodeflow/pkg/channel/redisstream"
	"github.com/nodeflow-io/nodeflow/pkg/ratelimit"
)

// NewPublisher builds the job channel publisher. Redis streams are the
// default; kafka reads its brokers from KAFKA_BROKERS.
func NewPublisher(ctx context.Context, logger *slog.Logger, provider, redisURL string) (channel.Publisher, error) {
	switch provider {
	case "redis", "":
		return redisstream.NewPublisher(ctx, logger, redisURL)
	case "kafka":
		return kafka.NewPublisher(logger)
	default:
		return nil, fmt.Errorf("unsupported channel provider %q", provider)
	}
}

// NewRateLimiter shares the webhook rate limit window across instances when
// Redis is available, falling back to a per-process limiter.
func NewRateLimiter(logger *slog.Logger, redisURL string) ratelimit.Limiter {
	if redisURL == "" {
		logger.Warn("no redis URL configured, webhook rate limits are per-instance")

		return ratelimit.NewMemory()
	}

	limiter, err := ratelimit.NewRedis(redisURL)
	if err != nil {
		logger.Warn("failed to build redis rate limiter, falling back to per-instance", "error", err)

		return ratelimit.NewMemory()
	}

	return limiter
}
