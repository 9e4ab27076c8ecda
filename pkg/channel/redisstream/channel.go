// Package redisstream publishes job messages to partitioned Redis Streams.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
)

// StreamKeyPrefix is the stream name prefix; the partition number is
// appended so each partition is its own stream the engine consumes with a
// consumer group.
const StreamKeyPrefix = "nodeflow:jobs:partition:"

// Publisher implements channel.Publisher on Redis Streams via XADD.
type Publisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewPublisher creates a Redis Stream publisher from a connection URL.
func NewPublisher(ctx context.Context, logger *slog.Logger, redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		client: client,
		logger: logger.With("module", "redis_stream_publisher"),
	}, nil
}

// NewPublisherWithClient wraps an existing client, used by tests.
func NewPublisherWithClient(logger *slog.Logger, client redis.UniversalClient) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With("module", "redis_stream_publisher"),
	}
}

// StreamKey returns the stream name for a partition.
func StreamKey(partition int) string {
	return fmt.Sprintf("%s%d", StreamKeyPrefix, partition)
}

func (p *Publisher) Publish(ctx context.Context, partition int, msg *channel.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(partition),
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append job to stream: %w", err)
	}

	p.logger.DebugContext(ctx, "Published job message",
		"job_id", msg.JobID,
		"partition", partition)

	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
