package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const defaultDatadogNamespace = "arb_relay"

// ServiceCheckStatus represents Datadog service check status values.
const (
	ServiceCheckOK       = 0
	ServiceCheckWarning  = 1
	ServiceCheckCritical = 2
	ServiceCheckUnknown  = 3
)

// DatadogPublisher publishes metrics to Datadog via DogStatsD.
// All Publisher interface methods are documented on the Publisher interface.
type DatadogPublisher struct {
	client     *statsd.Client
	namespace  string
	tags       []string
	sampleRate float64
}

// Ensure DatadogPublisher implements Publisher.
var _ Publisher = (*DatadogPublisher)(nil)

// DatadogConfig holds configuration for the Datadog publisher.
type DatadogConfig struct {
	// Address is the DogStatsD address (default: "127.0.0.1:8125")
	Address string
	// Namespace is the metric namespace prefix (default: "arb_relay")
	Namespace string
	// Tags are global tags applied to all metrics
	Tags []string
	// SampleRate for high-frequency metrics (default: 1.0 = 100%)
	// Values < 1.0 enable sampling to reduce network traffic
	SampleRate float64

	// Client tuning options (0 = use library default)
	BufferPoolSize        int
	BufferFlushInterval   time.Duration
	WorkersCount          int
	MaxMessagesPerPayload int
}

// NewDatadogPublisher creates a Datadog metrics publisher using DogStatsD.
func NewDatadogPublisher(cfg DatadogConfig) (*DatadogPublisher, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8125"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultDatadogNamespace
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}

	opts := []statsd.Option{
		statsd.WithNamespace(cfg.Namespace + "."),
		statsd.WithTags(cfg.Tags),
	}

	if cfg.BufferPoolSize > 0 {
		opts = append(opts, statsd.WithBufferPoolSize(cfg.BufferPoolSize))
	}
	if cfg.BufferFlushInterval > 0 {
		opts = append(opts, statsd.WithBufferFlushInterval(cfg.BufferFlushInterval))
	}
	if cfg.WorkersCount > 0 {
		opts = append(opts, statsd.WithWorkersCount(cfg.WorkersCount))
	}
	if cfg.MaxMessagesPerPayload > 0 {
		opts = append(opts, statsd.WithMaxMessagesPerPayload(cfg.MaxMessagesPerPayload))
	}

	client, err := statsd.New(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}

	return &DatadogPublisher{
		client:     client,
		namespace:  cfg.Namespace,
		tags:       cfg.Tags,
		sampleRate: cfg.SampleRate,
	}, nil
}

// Close closes the DogStatsD client connection.
func (p *DatadogPublisher) Close() error {
	return p.client.Close()
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *DatadogPublisher) PublishLeadershipStatus(_ context.Context, leading bool) error { //nolint:revive
	v := 0.0
	if leading {
		v = 1.0
	}
	return p.client.Gauge("leadership_status", v, nil, 1)
}

func (p *DatadogPublisher) PublishEpoch(_ context.Context, epoch int64) error { //nolint:revive
	return p.client.Gauge("leader_epoch", float64(epoch), nil, 1)
}

func (p *DatadogPublisher) PublishLeaderAcquired(_ context.Context) error { //nolint:revive
	return p.client.Incr("leader_acquired", nil, 1)
}

func (p *DatadogPublisher) PublishLeaderLost(_ context.Context) error { //nolint:revive
	return p.client.Incr("leader_lost", nil, 1)
}

func (p *DatadogPublisher) PublishRenewalFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("renewal_failures", nil, 1)
}

func (p *DatadogPublisher) PublishRenewalLatency(_ context.Context, d time.Duration) error { //nolint:revive
	// Use Distribution for global percentile aggregation across all hosts
	return p.client.Distribution("renewal_latency_seconds", d.Seconds(), nil, 1)
}

// PublishOpportunityPublished uses sample rate for high-frequency metrics.
func (p *DatadogPublisher) PublishOpportunityPublished(_ context.Context, sourceChain, targetChain string) error { //nolint:revive
	tags := []string{"source_chain:" + sourceChain, "target_chain:" + targetChain}
	return p.client.Incr("opportunities_published", tags, p.sampleRate)
}

// PublishOpportunitySuppressed uses sample rate for high-frequency metrics.
func (p *DatadogPublisher) PublishOpportunitySuppressed(_ context.Context, reason string) error { //nolint:revive
	return p.client.Incr("opportunities_suppressed", []string{"reason:" + reason}, p.sampleRate)
}

func (p *DatadogPublisher) PublishStreamAppendFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("stream_append_failures", nil, 1)
}

func (p *DatadogPublisher) PublishCacheSize(_ context.Context, size int) error { //nolint:revive
	return p.client.Gauge("cache_size", float64(size), nil, 1)
}

func (p *DatadogPublisher) PublishCacheEvictions(_ context.Context, count int, reason string) error { //nolint:revive
	return p.client.Count("cache_evictions", int64(count), []string{"reason:" + reason}, 1)
}

func (p *DatadogPublisher) PublishIngestReceived(_ context.Context, count int) error { //nolint:revive
	return p.client.Count("ingest_received", int64(count), nil, p.sampleRate)
}

func (p *DatadogPublisher) PublishIngestAckFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("ingest_ack_failures", nil, 1)
}

func (p *DatadogPublisher) PublishSchedulingFailure(_ context.Context, task string) error { //nolint:revive
	return p.client.Incr("scheduling_failure", []string{"task:" + task}, 1)
}

// PublishServiceCheck publishes a Datadog service check.
func (p *DatadogPublisher) PublishServiceCheck(_ context.Context, name string, status int, message string) error { //nolint:revive
	var ddStatus statsd.ServiceCheckStatus
	switch status {
	case ServiceCheckOK:
		ddStatus = statsd.Ok
	case ServiceCheckWarning:
		ddStatus = statsd.Warn
	case ServiceCheckCritical:
		ddStatus = statsd.Critical
	default:
		ddStatus = statsd.Unknown
	}

	return p.client.ServiceCheck(&statsd.ServiceCheck{
		Name:    p.namespace + "." + name,
		Status:  ddStatus,
		Message: message,
		Tags:    p.tags,
	})
}

// PublishEvent publishes a Datadog event.
func (p *DatadogPublisher) PublishEvent(_ context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	var ddAlertType statsd.EventAlertType
	switch alertType {
	case "warning":
		ddAlertType = statsd.Warning
	case "error":
		ddAlertType = statsd.Error
	case "success":
		ddAlertType = statsd.Success
	default:
		ddAlertType = statsd.Info
	}

	allTags := make([]string, 0, len(p.tags)+len(tags))
	allTags = append(allTags, p.tags...)
	allTags = append(allTags, tags...)

	return p.client.Event(&statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: ddAlertType,
		Tags:      allTags,
	})
}
