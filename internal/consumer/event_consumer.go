package consumer

import (
	"context"
	"fmt"
	"time"

	rediscommon "contact-aggregator/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheClearer drops every cache derived from installed packages.
type CacheClearer interface {
	ClearCaches(ctx context.Context)
}

// EventConsumer clears caches on package events read from a Redis stream.
type EventConsumer struct {
	redisClient  *redis.Client
	clearer      CacheClearer
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

// NewEventConsumer creates a consumer of stream within groupName.
func NewEventConsumer(
	redisClient *redis.Client,
	clearer CacheClearer,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *EventConsumer {
	return &EventConsumer{
		redisClient:  redisClient,
		clearer:      clearer,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        5 * time.Second,
	}
}

// Start consumes until ctx is done, backing off exponentially on read errors.
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.EnsureGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume events",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
		} else {
			backoffDuration = time.Second
		}
	}
}

// consumeEvents reads one batch. All invalidating events of the batch clear
// the caches once; every parsed message is acknowledged.
func (c *EventConsumer) consumeEvents(ctx context.Context) error {
	messages, err := rediscommon.ReadGroup(ctx, c.redisClient, rediscommon.ReadArgs{
		Stream:   c.stream,
		Group:    c.groupName,
		Consumer: c.consumerName,
		Count:    c.batchSize,
		Block:    c.block,
	})
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	var ackIDs []string
	invalidate := false
	for _, msg := range messages {
		event, err := parseEvent(msg)
		if err != nil {
			c.logger.Error("Failed to process event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if event.Invalidates() {
			c.logger.Info("Processing package event",
				zap.String("event_type", event.EventType),
				zap.String("package", event.Package),
			)
			invalidate = true
		} else {
			c.logger.Warn("Unknown event type",
				zap.String("event_type", event.EventType),
			)
		}
		ackIDs = append(ackIDs, msg.ID)
	}

	if invalidate {
		c.clearer.ClearCaches(ctx)
	}
	if len(ackIDs) > 0 {
		if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, ackIDs...); err != nil {
			c.logger.Warn("Failed to ack messages",
				zap.Strings("message_ids", ackIDs),
				zap.Error(err),
			)
		}
	}
	return nil
}
