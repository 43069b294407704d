package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage is one entry read from a Redis stream.
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// Field returns the string value of name.
func (m StreamMessage) Field(name string) (string, bool) {
	v, ok := m.Values[name].(string)
	return v, ok
}

// ReadArgs selects what ReadGroup reads.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	// Block is how long to wait for new entries; zero blocks indefinitely.
	Block time.Duration
}

// Publish XADDs fields to stream and returns the entry id.
func Publish(ctx context.Context, client *redis.Client, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return id, nil
}

// PublishJSON publishes v as a JSON "data" field with a unix "timestamp".
func PublishJSON(ctx context.Context, client *redis.Client, stream string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode stream entry: %w", err)
	}
	return Publish(ctx, client, stream, map[string]string{
		"data":      string(data),
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	})
}

// ReadGroup reads entries not yet delivered to args.Group. A timeout yields
// no messages and no error.
func ReadGroup(ctx context.Context, client *redis.Client, args ReadArgs) ([]StreamMessage, error) {
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, ">"},
		Count:    args.Count,
		Block:    args.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, StreamMessage{Stream: s.Stream, ID: msg.ID, Values: msg.Values})
		}
	}
	return messages, nil
}

// Ack acknowledges ids within group.
func Ack(ctx context.Context, client *redis.Client, stream, group string, ids ...string) error {
	return client.XAck(ctx, stream, group, ids...).Err()
}

// EnsureGroup creates group on stream, creating the stream when missing.
// An existing group is not an error.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}
