package alert

import (
	"context"
	"log/slog"

	"github.com/crosslane/arb-relay/pkg/logging"
)

var alertLog = logging.WithComponent(logging.LogTypeAlert, "sink")

// LogSink writes events to the structured log. It is always configured so
// that every alert is at least visible locally even when no paging sink is.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	attrs := []any{
		slog.String(logging.KeyInstanceID, ev.InstanceID),
		slog.String(logging.KeyRegion, ev.Region),
		slog.Int64(logging.KeyEpoch, ev.Epoch),
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String(logging.KeyReason, ev.Reason))
	}

	if ev.Type == TypeLeaderAcquired || ev.Type == TypeStreamResumed {
		alertLog.Info(ev.Type, attrs...)
	} else {
		alertLog.Warn(ev.Type, attrs...)
	}
	return nil
}

// Compile-time interface check.
var _ Sink = (*LogSink)(nil)
