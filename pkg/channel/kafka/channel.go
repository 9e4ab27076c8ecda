// Package kafka publishes job messages to partitioned Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
	"github.com/nodeflow-io/nodeflow/pkg/models"
)

// TopicPrefix is the job topic prefix; the partition number is appended so
// each partition maps to its own topic with a single engine consumer group.
const TopicPrefix = "nodeflow.jobs."

// Publisher implements channel.Publisher on Kafka through watermill.
type Publisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewPublisher creates a Kafka publisher from the KAFKA_BROKERS environment
// variable.
func NewPublisher(logger *slog.Logger) (*Publisher, error) {
	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("KAFKA_BROKERS environment variable is not set or empty")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true

	publisher, err := wkafka.NewPublisher(
		wkafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             wkafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.With("module", "kafka_publisher"),
	}, nil
}

// Topic returns the job topic name for a partition.
func Topic(partition int) string {
	return fmt.Sprintf("%s%d", TopicPrefix, partition)
}

func (p *Publisher) Publish(ctx context.Context, partition int, msg *channel.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	wmsg := message.NewMessage(models.NewID(), payload)
	wmsg.Metadata.Set("job_id", msg.JobID)

	if err := p.publisher.Publish(Topic(partition), wmsg); err != nil {
		return fmt.Errorf("failed to publish job to Kafka: %w", err)
	}

	p.logger.DebugContext(ctx, "Published job message",
		"job_id", msg.JobID,
		"partition", partition)

	return nil
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
