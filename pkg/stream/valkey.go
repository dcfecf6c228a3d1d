package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ValkeyStream implements Appender and Source on Valkey Streams. Appends cap
// the stream with an approximate MaxLen trim; consumption uses a consumer
// group so multiple relay instances share the raw stream without duplicate
// delivery.
type ValkeyStream struct {
	client     *redis.Client
	stream     string
	group      string
	consumerID string
	maxLen     int64
}

// ValkeyConfig holds Valkey stream settings.
type ValkeyConfig struct {
	Addr       string
	Password   string
	DB         int
	Stream     string
	Group      string
	ConsumerID string
	MaxLen     int64
}

// NewValkeyStream creates a Valkey-backed stream client and ensures the
// consumer group exists.
func NewValkeyStream(cfg ValkeyConfig) (*ValkeyStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = uuid.New().String()
	}

	vs := &ValkeyStream{
		client:     client,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumerID: consumerID,
		maxLen:     cfg.MaxLen,
	}

	if err := vs.ensureConsumerGroup(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}

	return vs, nil
}

// NewValkeyStreamWithClient creates a stream client with an existing
// redis.Client (for testing).
func NewValkeyStreamWithClient(client *redis.Client, stream, group, consumerID string, maxLen int64) *ValkeyStream {
	return &ValkeyStream{
		client:     client,
		stream:     stream,
		group:      group,
		consumerID: consumerID,
		maxLen:     maxLen,
	}
}

func (s *ValkeyStream) ensureConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Append implements Appender via XADD with an approximate length cap.
func (s *ValkeyStream) Append(ctx context.Context, streamName string, record []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"body": string(record),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", streamName, err)
	}
	return id, nil
}

// Fetch implements Source via XREADGROUP on the configured stream. A
// non-positive wait returns immediately; BLOCK 0 would park forever.
func (s *ValkeyStream) Fetch(ctx context.Context, max int64, wait time.Duration) ([]Message, error) {
	block := wait
	if block <= 0 {
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumerID,
		Streams:  []string{s.stream, ">"},
		Count:    max,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []Message
	for _, str := range streams {
		for _, xmsg := range str.Messages {
			msg := Message{
				ID:         xmsg.ID,
				Handle:     xmsg.ID,
				Attributes: make(map[string]string),
			}
			if body, ok := xmsg.Values["body"].(string); ok {
				msg.Body = body
			}
			if traceID, ok := xmsg.Values["trace_id"].(string); ok && traceID != "" {
				msg.Attributes["TraceID"] = traceID
			}
			if spanID, ok := xmsg.Values["span_id"].(string); ok && spanID != "" {
				msg.Attributes["SpanID"] = spanID
			}
			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// Ack implements Source via XACK.
func (s *ValkeyStream) Ack(ctx context.Context, handle string) error {
	if _, err := s.client.XAck(ctx, s.stream, s.group, handle).Result(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// Ping checks connectivity to Valkey.
func (s *ValkeyStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client connection.
func (s *ValkeyStream) Close() error {
	return s.client.Close()
}

// Compile-time interface checks.
var (
	_ Appender = (*ValkeyStream)(nil)
	_ Source   = (*ValkeyStream)(nil)
	_ Pinger   = (*ValkeyStream)(nil)
)
