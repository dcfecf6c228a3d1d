package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/crosslane/arb-relay/pkg/logging"
)

const (
	// maxBatchSize is the maximum number of log events per PutLogEvents call.
	maxBatchSize = 10000
	// maxBufferedEvents caps the buffer; oldest events are dropped beyond it.
	maxBufferedEvents = 50000
	// flushInterval is how often buffered events are shipped.
	flushInterval = 5 * time.Second
	// maxBackoff caps the exponential retry backoff.
	maxBackoff = 8 * time.Second
)

// CloudWatchLogsAPI defines CloudWatch Logs operations for the audit sink.
type CloudWatchLogsAPI interface {
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsSink keeps a durable audit trail of alert events as JSON
// lines in a CloudWatch Logs stream. Events are buffered in memory and
// flushed in batches; delivery is best-effort and never blocks the caller.
type CloudWatchLogsSink struct {
	client    CloudWatchLogsAPI
	logGroup  string
	logStream string

	eventsMu sync.Mutex
	events   []types.InputLogEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCloudWatchLogsSink creates a sink writing to the given group and stream.
func NewCloudWatchLogsSink(cfg aws.Config, logGroup, logStream string) *CloudWatchLogsSink {
	return NewCloudWatchLogsSinkWithClient(cloudwatchlogs.NewFromConfig(cfg), logGroup, logStream)
}

// NewCloudWatchLogsSinkWithClient creates a sink with an injected client,
// used in tests.
func NewCloudWatchLogsSinkWithClient(client CloudWatchLogsAPI, logGroup, logStream string) *CloudWatchLogsSink {
	return &CloudWatchLogsSink{
		client:    client,
		logGroup:  logGroup,
		logStream: logStream,
		events:    make([]types.InputLogEvent, 0, maxBatchSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start creates the log stream if needed and starts the background flusher.
func (s *CloudWatchLogsSink) Start(ctx context.Context) error {
	_, err := s.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(s.logGroup),
		LogStreamName: aws.String(s.logStream),
	})
	if err != nil && !strings.Contains(err.Error(), "ResourceAlreadyExistsException") {
		return fmt.Errorf("failed to create log stream: %w", err)
	}

	go s.flushLoop(ctx)
	return nil
}

// Publish implements Sink. The event is buffered; flushing happens in the
// background.
func (s *CloudWatchLogsSink) Publish(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if len(s.events) >= maxBufferedEvents {
		dropCount := maxBufferedEvents / 10
		s.events = s.events[dropCount:]
	}

	s.events = append(s.events, types.InputLogEvent{
		Message:   aws.String(string(body)),
		Timestamp: aws.Int64(time.Now().UnixMilli()),
	})

	return nil
}

// Stop flushes remaining events and stops the background flusher.
func (s *CloudWatchLogsSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *CloudWatchLogsSink) flushLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-s.stopCh:
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// flush sends buffered events, sorted by timestamp as CloudWatch requires,
// retrying up to 3 times with capped exponential backoff.
func (s *CloudWatchLogsSink) flush(ctx context.Context) {
	s.eventsMu.Lock()
	if len(s.events) == 0 {
		s.eventsMu.Unlock()
		return
	}
	events := s.events
	s.events = make([]types.InputLogEvent, 0, maxBatchSize)
	s.eventsMu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		return *events[i].Timestamp < *events[j].Timestamp
	})

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		_, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(s.logGroup),
			LogStreamName: aws.String(s.logStream),
			LogEvents:     events,
		})
		if err != nil {
			alertLog.Warn("audit flush failed",
				slog.String(logging.KeyError, err.Error()),
				slog.Int(logging.KeyCount, attempt+1))
			continue
		}
		return
	}
}

// Compile-time interface check.
var _ Sink = (*CloudWatchLogsSink)(nil)
