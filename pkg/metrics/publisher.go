// Package metrics provides metrics publishing abstractions and implementations.
package metrics

import (
	"context"
	"time"
)

// Publisher defines the interface for publishing metrics to various backends.
type Publisher interface {
	// Close releases any resources held by the publisher.
	// Implementations that don't need cleanup should return nil.
	Close() error

	// PublishLeadershipStatus publishes whether this instance leads as a 0/1 gauge.
	PublishLeadershipStatus(ctx context.Context, leading bool) error

	// PublishEpoch publishes the current fencing epoch as a gauge metric.
	PublishEpoch(ctx context.Context, epoch int64) error

	// PublishLeaderAcquired publishes a leadership acquisition event.
	PublishLeaderAcquired(ctx context.Context) error

	// PublishLeaderLost publishes a leadership loss event.
	PublishLeaderLost(ctx context.Context) error

	// PublishRenewalFailure publishes a lease renewal failure event.
	PublishRenewalFailure(ctx context.Context) error

	// PublishRenewalLatency publishes the duration of one lease renewal round trip.
	PublishRenewalLatency(ctx context.Context, d time.Duration) error

	// PublishOpportunityPublished publishes an opportunity publication event
	// with source and target chain dimensions.
	PublishOpportunityPublished(ctx context.Context, sourceChain, targetChain string) error

	// PublishOpportunitySuppressed publishes a suppressed publication event
	// with the suppression reason dimension (not_leader, duplicate,
	// below_improvement, append_failed).
	PublishOpportunitySuppressed(ctx context.Context, reason string) error

	// PublishStreamAppendFailure publishes a stream append failure event.
	PublishStreamAppendFailure(ctx context.Context) error

	// PublishCacheSize publishes the dedupe cache size as a gauge metric.
	PublishCacheSize(ctx context.Context, size int) error

	// PublishCacheEvictions publishes count of cache entries evicted with the
	// eviction reason dimension (ttl, size).
	PublishCacheEvictions(ctx context.Context, count int, reason string) error

	// PublishIngestReceived publishes count of messages fetched from the raw stream.
	PublishIngestReceived(ctx context.Context, count int) error

	// PublishIngestAckFailure publishes a message acknowledgement failure event.
	PublishIngestAckFailure(ctx context.Context) error

	// PublishSchedulingFailure publishes a scheduled task failure event with task dimension.
	PublishSchedulingFailure(ctx context.Context, task string) error

	// PublishServiceCheck publishes a service health check.
	// status: 0=OK, 1=Warning, 2=Critical, 3=Unknown
	PublishServiceCheck(ctx context.Context, name string, status int, message string) error

	// PublishEvent publishes a notable event (e.g., leadership change, stream halt).
	// alertType: "info", "warning", "error", "success"
	PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error
}

// NoopPublisher is a no-op implementation of Publisher for testing or disabled metrics.
// All methods are documented on the Publisher interface.
type NoopPublisher struct{}

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) Close() error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeadershipStatus(context.Context, bool) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishEpoch(context.Context, int64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeaderAcquired(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeaderLost(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishRenewalFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishRenewalLatency(context.Context, time.Duration) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishOpportunityPublished(context.Context, string, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishOpportunitySuppressed(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishStreamAppendFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishCacheSize(context.Context, int) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishCacheEvictions(context.Context, int, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishIngestReceived(context.Context, int) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishIngestAckFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishSchedulingFailure(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishServiceCheck(context.Context, string, int, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishEvent(context.Context, string, string, string, []string) error {
	return nil
}

// Ensure NoopPublisher implements Publisher.
var _ Publisher = NoopPublisher{}
