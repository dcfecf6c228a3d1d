package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// SQSAPI defines SQS operations for stream transport.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSStream implements Appender and Source on an SQS FIFO queue. The stream
// name becomes the FIFO message group, preserving per-stream ordering while
// separate streams move in parallel.
type SQSStream struct {
	client   SQSAPI
	queueURL string
}

// NewSQSStream creates an SQS-backed stream client for the given queue URL.
func NewSQSStream(cfg aws.Config, queueURL string) *SQSStream {
	return &SQSStream{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

// NewSQSStreamWithClient creates a stream client with an injected SQS client,
// used in tests.
func NewSQSStreamWithClient(client SQSAPI, queueURL string) *SQSStream {
	return &SQSStream{
		client:   client,
		queueURL: queueURL,
	}
}

// Append implements Appender. The deduplication id hashes the record plus a
// nonce so distinct detections of identical content are still delivered;
// content-level suppression is the distributor's job, not the transport's.
func (s *SQSStream) Append(ctx context.Context, streamName string, record []byte) (string, error) {
	nonce := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.New().String()[:8])
	hash := sha256.Sum256(append(record, []byte(nonce)...))
	dedupID := hex.EncodeToString(hash[:])

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(s.queueURL),
		MessageBody:            aws.String(string(record)),
		MessageGroupId:         aws.String(streamName),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return aws.ToString(out.MessageId), nil
}

// Fetch implements Source with long polling. The visibility timeout gives
// the consumer one minute to process and ack before redelivery.
func (s *SQSStream) Fetch(ctx context.Context, max int64, wait time.Duration) ([]Message, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.queueURL),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       int32(wait / time.Second),
		VisibilityTimeout:     int32(60),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:         aws.ToString(m.MessageId),
			Body:       aws.ToString(m.Body),
			Handle:     aws.ToString(m.ReceiptHandle),
			Attributes: make(map[string]string),
		}
		for name, attr := range m.MessageAttributes {
			if attr.StringValue != nil {
				msg.Attributes[name] = *attr.StringValue
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Ack implements Source by deleting the processed message.
func (s *SQSStream) Ack(ctx context.Context, handle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Appender = (*SQSStream)(nil)
	_ Source   = (*SQSStream)(nil)
)
