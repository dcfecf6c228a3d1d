// Package ingest consumes raw opportunity submissions from the detection
// stream and forwards them to the distributor.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/crosslane/arb-relay/internal/handler"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/metrics"
	"github.com/crosslane/arb-relay/pkg/opportunity"
	"github.com/crosslane/arb-relay/pkg/stream"
	"github.com/crosslane/arb-relay/pkg/tracing"
)

var ingestLog = logging.WithComponent(logging.LogTypeIngest, "consumer")

const (
	defaultBatchSize = 10
	defaultWaitTime  = 5 * time.Second
	errorBackoff     = 2 * time.Second
)

// Distributor is the subset of the opportunity distributor the consumer needs.
type Distributor interface {
	Publish(ctx context.Context, opp *opportunity.Opportunity) bool
}

// Consumer drains the raw opportunity stream. Every fetched message is
// acknowledged exactly once: valid opportunities after the publish decision,
// malformed ones immediately so a poison message cannot wedge the stream.
type Consumer struct {
	source      stream.Source
	distributor Distributor
	metrics     metrics.Publisher
	tracer      *tracing.OpportunityTracer
	streamName  string

	batchSize int64
	waitTime  time.Duration
}

// NewConsumer creates a consumer reading from source and publishing through
// the distributor. streamName labels logs, spans, and metric dimensions.
func NewConsumer(source stream.Source, distributor Distributor, m metrics.Publisher, streamName string) *Consumer {
	if m == nil {
		m = metrics.NoopPublisher{}
	}
	return &Consumer{
		source:      source,
		distributor: distributor,
		metrics:     m,
		tracer:      tracing.NewOpportunityTracer(),
		streamName:  streamName,
		batchSize:   defaultBatchSize,
		waitTime:    defaultWaitTime,
	}
}

// Run fetches and processes messages until ctx is cancelled. Fetch errors
// back off and retry; they never terminate the loop.
func (c *Consumer) Run(ctx context.Context) {
	ingestLog.Info("starting ingest consumer", slog.String(logging.KeyStream, c.streamName))

	for {
		select {
		case <-ctx.Done():
			ingestLog.Info("ingest consumer stopped", slog.String(logging.KeyStream, c.streamName))
			return
		default:
		}

		messages, err := c.source.Fetch(ctx, c.batchSize, c.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				ingestLog.Info("ingest consumer stopped", slog.String(logging.KeyStream, c.streamName))
				return
			}
			ingestLog.Error("failed to fetch messages",
				slog.String(logging.KeyStream, c.streamName),
				slog.String(logging.KeyError, err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		if len(messages) == 0 {
			continue
		}

		if merr := c.metrics.PublishIngestReceived(ctx, len(messages)); merr != nil {
			ingestLog.Warn("failed to publish ingest metric", slog.String(logging.KeyError, merr.Error()))
		}

		for _, msg := range messages {
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage handles one raw submission. Malformed or invalid payloads
// are dropped after acknowledgement; re-delivering them cannot make them
// parse.
func (c *Consumer) processMessage(ctx context.Context, msg stream.Message) {
	msgCtx := tracing.ExtractTraceContext(ctx, msg.Attributes)
	msgCtx, span := c.tracer.StartIngestSpan(msgCtx, msg.ID, c.streamName)
	defer span.End()

	var opp opportunity.Opportunity
	if err := json.Unmarshal([]byte(msg.Body), &opp); err != nil {
		ingestLog.Warn("dropping malformed message",
			slog.String(logging.KeyMessageID, msg.ID),
			slog.String(logging.KeyError, err.Error()))
		tracing.RecordError(msgCtx, err)
		c.ack(msgCtx, msg)
		return
	}

	if err := handler.ValidateOpportunity(&opp); err != nil {
		ingestLog.Warn("dropping invalid opportunity",
			slog.String(logging.KeyMessageID, msg.ID),
			slog.String(logging.KeyError, err.Error()))
		tracing.RecordError(msgCtx, err)
		c.ack(msgCtx, msg)
		return
	}

	published := c.distributor.Publish(msgCtx, &opp)
	ingestLog.Debug("processed opportunity",
		slog.String(logging.KeyMessageID, msg.ID),
		slog.String(logging.KeyDedupeKey, opp.DedupeKey()),
		slog.Bool(logging.KeyResult, published))

	c.ack(msgCtx, msg)
}

// ack acknowledges a message. A failed ack means the message redelivers;
// the dedupe cache absorbs the repeat, so this only logs and counts.
func (c *Consumer) ack(ctx context.Context, msg stream.Message) {
	if err := c.source.Ack(ctx, msg.Handle); err != nil {
		ingestLog.Error("failed to ack message",
			slog.String(logging.KeyMessageID, msg.ID),
			slog.String(logging.KeyError, err.Error()))
		if merr := c.metrics.PublishIngestAckFailure(ctx); merr != nil {
			ingestLog.Warn("failed to publish ack failure metric", slog.String(logging.KeyError, merr.Error()))
		}
	}
}
