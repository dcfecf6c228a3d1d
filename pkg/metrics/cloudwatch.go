package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI provides CloudWatch operations.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher publishes metrics to AWS CloudWatch.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
}

// Ensure CloudWatchPublisher implements Publisher.
var _ Publisher = (*CloudWatchPublisher)(nil)

// NewCloudWatchPublisher creates a CloudWatch metrics publisher.
func NewCloudWatchPublisher(cfg aws.Config) *CloudWatchPublisher {
	return NewCloudWatchPublisherWithNamespace(cfg, "ArbRelay")
}

// NewCloudWatchPublisherWithNamespace creates a CloudWatch metrics publisher with custom namespace.
func NewCloudWatchPublisherWithNamespace(cfg aws.Config, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
	}
}

// Close implements Publisher.Close. CloudWatch client doesn't require cleanup.
func (p *CloudWatchPublisher) Close() error {
	return nil
}

// PublishLeadershipStatus publishes the leadership gauge.
func (p *CloudWatchPublisher) PublishLeadershipStatus(ctx context.Context, leading bool) error {
	v := 0.0
	if leading {
		v = 1.0
	}
	return p.putGaugeMetric(ctx, "LeadershipStatus", v, types.StandardUnitCount)
}

// PublishEpoch publishes the fencing epoch gauge.
func (p *CloudWatchPublisher) PublishEpoch(ctx context.Context, epoch int64) error {
	return p.putGaugeMetric(ctx, "LeaderEpoch", float64(epoch), types.StandardUnitCount)
}

// PublishLeaderAcquired publishes a leadership acquisition metric.
func (p *CloudWatchPublisher) PublishLeaderAcquired(ctx context.Context) error {
	return p.putMetric(ctx, "LeaderAcquired", 1, types.StandardUnitCount)
}

// PublishLeaderLost publishes a leadership loss metric.
func (p *CloudWatchPublisher) PublishLeaderLost(ctx context.Context) error {
	return p.putMetric(ctx, "LeaderLost", 1, types.StandardUnitCount)
}

// PublishRenewalFailure publishes a renewal failure metric.
func (p *CloudWatchPublisher) PublishRenewalFailure(ctx context.Context) error {
	return p.putMetric(ctx, "RenewalFailures", 1, types.StandardUnitCount)
}

// PublishRenewalLatency publishes the renewal round-trip latency.
func (p *CloudWatchPublisher) PublishRenewalLatency(ctx context.Context, d time.Duration) error {
	return p.putMetric(ctx, "RenewalLatency", d.Seconds(), types.StandardUnitSeconds)
}

// PublishOpportunityPublished publishes a publication metric with chain dimensions.
func (p *CloudWatchPublisher) PublishOpportunityPublished(ctx context.Context, sourceChain, targetChain string) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("OpportunitiesPublished"),
				Value:      aws.Float64(1),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("SourceChain"),
						Value: aws.String(sourceChain),
					},
					{
						Name:  aws.String("TargetChain"),
						Value: aws.String(targetChain),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish opportunity published metric for %s->%s: %w", sourceChain, targetChain, err)
	}
	return nil
}

// PublishOpportunitySuppressed publishes a suppression metric with reason dimension.
func (p *CloudWatchPublisher) PublishOpportunitySuppressed(ctx context.Context, reason string) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("OpportunitiesSuppressed"),
				Value:      aws.Float64(1),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("Reason"),
						Value: aws.String(reason),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish opportunity suppressed metric for %s: %w", reason, err)
	}
	return nil
}

// PublishStreamAppendFailure publishes a stream append failure metric.
func (p *CloudWatchPublisher) PublishStreamAppendFailure(ctx context.Context) error {
	return p.putMetric(ctx, "StreamAppendFailures", 1, types.StandardUnitCount)
}

// PublishCacheSize publishes the dedupe cache size gauge.
func (p *CloudWatchPublisher) PublishCacheSize(ctx context.Context, size int) error {
	return p.putGaugeMetric(ctx, "CacheSize", float64(size), types.StandardUnitCount)
}

// PublishCacheEvictions publishes evicted entry count with reason dimension.
func (p *CloudWatchPublisher) PublishCacheEvictions(ctx context.Context, count int, reason string) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("CacheEvictions"),
				Value:      aws.Float64(float64(count)),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("Reason"),
						Value: aws.String(reason),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish cache evictions metric for %s: %w", reason, err)
	}
	return nil
}

// PublishIngestReceived publishes count of messages fetched from the raw stream.
func (p *CloudWatchPublisher) PublishIngestReceived(ctx context.Context, count int) error {
	return p.putMetric(ctx, "IngestReceived", float64(count), types.StandardUnitCount)
}

// PublishIngestAckFailure publishes an ack failure metric.
func (p *CloudWatchPublisher) PublishIngestAckFailure(ctx context.Context) error {
	return p.putMetric(ctx, "IngestAckFailures", 1, types.StandardUnitCount)
}

// PublishSchedulingFailure publishes a scheduled task failure metric with task dimension.
func (p *CloudWatchPublisher) PublishSchedulingFailure(ctx context.Context, task string) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("SchedulingFailure"),
				Value:      aws.Float64(1),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("Task"),
						Value: aws.String(task),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish scheduling failure metric for %s: %w", task, err)
	}
	return nil
}

// PublishServiceCheck is a no-op for CloudWatch (Datadog-specific feature).
func (p *CloudWatchPublisher) PublishServiceCheck(_ context.Context, _ string, _ int, _ string) error { //nolint:revive
	return nil
}

// PublishEvent is a no-op for CloudWatch (Datadog-specific feature).
func (p *CloudWatchPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}

func (p *CloudWatchPublisher) putMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", name, err)
	}
	return nil
}

func (p *CloudWatchPublisher) putGaugeMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				StatisticValues: &types.StatisticSet{
					SampleCount: aws.Float64(1),
					Sum:         aws.Float64(value),
					Minimum:     aws.Float64(value),
					Maximum:     aws.Float64(value),
				},
				Unit:      unit,
				Timestamp: aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", name, err)
	}
	return nil
}
