package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI defines SNS operations for alert delivery.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes events to an SNS topic for paging integrations.
type SNSSink struct {
	client   SNSAPI
	topicARN string
}

// NewSNSSink creates an SNSSink publishing to the given topic.
func NewSNSSink(cfg aws.Config, topicARN string) *SNSSink {
	return &SNSSink{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}
}

// NewSNSSinkWithClient creates an SNSSink with an injected client, used in
// tests.
func NewSNSSinkWithClient(client SNSAPI, topicARN string) *SNSSink {
	return &SNSSink{
		client:   client,
		topicARN: topicARN,
	}
}

// Publish implements Sink.
func (s *SNSSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := fmt.Sprintf("[arb-relay] %s %s", ev.Type, ev.Region)

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert to SNS: %w", err)
	}

	return nil
}

// Compile-time interface check.
var _ Sink = (*SNSSink)(nil)
