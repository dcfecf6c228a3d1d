// Package report generates daily activity reports from CloudWatch metrics.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/crosslane/arb-relay/pkg/logging"
)

var reportLog = logging.WithComponent(logging.LogTypeReport, "reporter")

// CloudWatchAPI defines the CloudWatch operations needed for report queries.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// S3API defines the S3 operations needed for report archival.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SNSAPI defines the SNS operations needed for report notification.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ActivitySummary holds the metric totals for one reporting day.
type ActivitySummary struct {
	Date                string
	Published           float64
	Suppressed          float64
	RenewalFailures     float64
	LeaderAcquired      float64
	LeaderLost          float64
	StreamAppendFailure float64
	IngestReceived      float64
	CacheEvictions      float64
}

// Reporter assembles a daily activity report from CloudWatch metrics and
// delivers it to S3 and SNS. Delivery failures are logged, not fatal; the
// report is best-effort observability, never load-bearing.
type Reporter struct {
	cwClient      CloudWatchAPI
	s3Client      S3API
	snsClient     SNSAPI
	namespace     string
	snsTopicARN   string
	reportsBucket string
}

// NewReporter creates a reporter using real AWS clients.
func NewReporter(cfg aws.Config, namespace, snsTopicARN, reportsBucket string) *Reporter {
	return &Reporter{
		cwClient:      cloudwatch.NewFromConfig(cfg),
		s3Client:      s3.NewFromConfig(cfg),
		snsClient:     sns.NewFromConfig(cfg),
		namespace:     namespace,
		snsTopicARN:   snsTopicARN,
		reportsBucket: reportsBucket,
	}
}

// NewReporterWithClients creates a reporter with injected clients, used in
// tests.
func NewReporterWithClients(cwClient CloudWatchAPI, s3Client S3API, snsClient SNSAPI, namespace, snsTopicARN, reportsBucket string) *Reporter {
	return &Reporter{
		cwClient:      cwClient,
		s3Client:      s3Client,
		snsClient:     snsClient,
		namespace:     namespace,
		snsTopicARN:   snsTopicARN,
		reportsBucket: reportsBucket,
	}
}

// GenerateDailyReport builds and delivers the report for the previous UTC day.
// A CloudWatch query failure aborts the run; S3 and SNS failures are logged
// and the remaining deliveries still happen.
func (r *Reporter) GenerateDailyReport(ctx context.Context) error {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)

	summary, err := r.fetchSummary(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}

	body := r.renderMarkdown(summary)

	if r.reportsBucket != "" {
		if err := r.uploadToS3(ctx, start, body); err != nil {
			reportLog.Error("failed to upload report to S3",
				slog.String(logging.KeyError, err.Error()))
		}
	}

	if r.snsTopicARN != "" {
		if err := r.notifySNS(ctx, summary, body); err != nil {
			reportLog.Error("failed to publish report to SNS",
				slog.String(logging.KeyError, err.Error()))
		}
	}

	reportLog.Info("daily report generated",
		slog.String("date", summary.Date),
		slog.Float64("published", summary.Published),
		slog.Float64("suppressed", summary.Suppressed))

	return nil
}

// metricQueries maps GetMetricData result ids to CloudWatch metric names.
var metricQueries = []struct {
	id     string
	metric string
}{
	{"opportunities_published", "OpportunitiesPublished"},
	{"opportunities_suppressed", "OpportunitiesSuppressed"},
	{"renewal_failures", "RenewalFailures"},
	{"leader_acquired", "LeaderAcquired"},
	{"leader_lost", "LeaderLost"},
	{"stream_append_failures", "StreamAppendFailures"},
	{"ingest_received", "IngestReceived"},
	{"cache_evictions", "CacheEvictions"},
}

func (r *Reporter) fetchSummary(ctx context.Context, start, end time.Time) (*ActivitySummary, error) {
	queries := make([]cwtypes.MetricDataQuery, 0, len(metricQueries))
	for _, q := range metricQueries {
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: aws.String(q.id),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(r.namespace),
					MetricName: aws.String(q.metric),
				},
				Period: aws.Int32(86400),
				Stat:   aws.String("Sum"),
			},
		})
	}

	output, err := r.cwClient.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime:         aws.Time(start),
		EndTime:           aws.Time(end),
		MetricDataQueries: queries,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMetricData failed: %w", err)
	}

	summary := &ActivitySummary{Date: start.Format("2006-01-02")}
	for _, result := range output.MetricDataResults {
		if result.Id == nil {
			continue
		}
		total := 0.0
		for _, v := range result.Values {
			total += v
		}
		switch *result.Id {
		case "opportunities_published":
			summary.Published = total
		case "opportunities_suppressed":
			summary.Suppressed = total
		case "renewal_failures":
			summary.RenewalFailures = total
		case "leader_acquired":
			summary.LeaderAcquired = total
		case "leader_lost":
			summary.LeaderLost = total
		case "stream_append_failures":
			summary.StreamAppendFailure = total
		case "ingest_received":
			summary.IngestReceived = total
		case "cache_evictions":
			summary.CacheEvictions = total
		}
	}

	return summary, nil
}

func (r *Reporter) renderMarkdown(s *ActivitySummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# arb-relay Daily Activity Report\n\n")
	fmt.Fprintf(&b, "Date: %s (UTC)\n\n", s.Date)

	fmt.Fprintf(&b, "## Distribution\n\n")
	fmt.Fprintf(&b, "- Opportunities published: %.0f\n", s.Published)
	fmt.Fprintf(&b, "- Opportunities suppressed: %.0f\n", s.Suppressed)
	total := s.Published + s.Suppressed
	if total > 0 {
		fmt.Fprintf(&b, "- Publish rate: %.1f%%\n", 100*s.Published/total)
	}
	fmt.Fprintf(&b, "- Stream append failures: %.0f\n", s.StreamAppendFailure)
	fmt.Fprintf(&b, "- Cache evictions: %.0f\n\n", s.CacheEvictions)

	fmt.Fprintf(&b, "## Leadership\n\n")
	fmt.Fprintf(&b, "- Leases acquired: %.0f\n", s.LeaderAcquired)
	fmt.Fprintf(&b, "- Leases lost: %.0f\n", s.LeaderLost)
	fmt.Fprintf(&b, "- Renewal failures: %.0f\n\n", s.RenewalFailures)

	fmt.Fprintf(&b, "## Ingest\n\n")
	fmt.Fprintf(&b, "- Raw signals received: %.0f\n\n", s.IngestReceived)

	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "Counters are daily sums over the CloudWatch namespace %q.\n", r.namespace)

	return b.String()
}

func (r *Reporter) uploadToS3(ctx context.Context, day time.Time, body string) error {
	key := fmt.Sprintf("reports/%s/%s/%s.md",
		day.Format("2006"), day.Format("01"), day.Format("02"))

	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.reportsBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("text/markdown"),
	})
	if err != nil {
		return fmt.Errorf("PutObject failed: %w", err)
	}

	reportLog.Info("report uploaded", slog.String("key", key))
	return nil
}

func (r *Reporter) notifySNS(ctx context.Context, s *ActivitySummary, body string) error {
	subject := fmt.Sprintf("arb-relay Daily Activity Report - %s", s.Date)

	_, err := r.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(r.snsTopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("Publish failed: %w", err)
	}

	return nil
}
