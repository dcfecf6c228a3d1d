// Package stream provides append and consume abstractions over the
// opportunity streams. Supports Valkey Streams and SQS backends.
package stream

import (
	"context"
	"time"
)

// Pinger is an optional interface for health checking stream connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Appender publishes records to a named stream.
type Appender interface {
	// Append adds a record to the stream and returns the backend-assigned
	// record id. Returns error if the record cannot be appended.
	Append(ctx context.Context, streamName string, record []byte) (string, error)
}

// Source consumes records from the configured stream.
type Source interface {
	// Fetch retrieves up to max messages, long polling up to wait.
	// Returns an empty slice if no messages are available.
	Fetch(ctx context.Context, max int64, wait time.Duration) ([]Message, error)

	// Ack acknowledges successful processing of a message.
	// handle is the receipt handle (SQS) or stream entry ID (Valkey).
	Ack(ctx context.Context, handle string) error
}

// Message represents a stream record in a backend-agnostic format.
type Message struct {
	// ID is the backend-assigned record identifier.
	ID string

	// Body contains the JSON-encoded payload.
	Body string

	// Handle is used to acknowledge the message.
	// For SQS: ReceiptHandle
	// For Valkey: stream entry ID
	Handle string

	// Attributes contains message metadata (trace context, etc).
	Attributes map[string]string
}

// ExtractTraceContext extracts trace context from message attributes.
func ExtractTraceContext(msg Message) (traceID, spanID string) {
	if msg.Attributes == nil {
		return "", ""
	}
	return msg.Attributes["TraceID"], msg.Attributes["SpanID"]
}
