package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crosslane/arb-relay/pkg/logging"
)

const publishTimeout = 5 * time.Second

var metricsLog = logging.WithComponent(logging.LogTypeMetrics, "multi")

// MultiPublisher publishes metrics to multiple backends simultaneously.
// All Publisher interface methods are documented on the Publisher interface.
type MultiPublisher struct {
	publishers []Publisher
}

// Ensure MultiPublisher implements Publisher.
var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a publisher that fans out to multiple backends.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Add adds a publisher to the fan-out list.
func (m *MultiPublisher) Add(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// Publishers returns the list of configured publishers.
func (m *MultiPublisher) Publishers() []Publisher {
	return m.publishers
}

// Close closes all child publishers.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) publishAll(fn func(p Publisher) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, p := range m.publishers {
		wg.Add(1)
		go func(pub Publisher) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- fn(pub)
			}()
			select {
			case err := <-done:
				if err != nil {
					metricsLog.Warn("metrics publish error", slog.String(logging.KeyError, err.Error()))
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			case <-time.After(publishTimeout):
				metricsLog.Warn("metrics publish timeout", slog.Duration("timeout", publishTimeout))
				mu.Lock()
				errs = append(errs, fmt.Errorf("publish timeout after %v", publishTimeout))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (m *MultiPublisher) PublishLeadershipStatus(ctx context.Context, leading bool) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeadershipStatus(ctx, leading)
	})
}

func (m *MultiPublisher) PublishEpoch(ctx context.Context, epoch int64) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishEpoch(ctx, epoch)
	})
}

func (m *MultiPublisher) PublishLeaderAcquired(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeaderAcquired(ctx)
	})
}

func (m *MultiPublisher) PublishLeaderLost(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeaderLost(ctx)
	})
}

func (m *MultiPublisher) PublishRenewalFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishRenewalFailure(ctx)
	})
}

func (m *MultiPublisher) PublishRenewalLatency(ctx context.Context, d time.Duration) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishRenewalLatency(ctx, d)
	})
}

func (m *MultiPublisher) PublishOpportunityPublished(ctx context.Context, sourceChain, targetChain string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishOpportunityPublished(ctx, sourceChain, targetChain)
	})
}

func (m *MultiPublisher) PublishOpportunitySuppressed(ctx context.Context, reason string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishOpportunitySuppressed(ctx, reason)
	})
}

func (m *MultiPublisher) PublishStreamAppendFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishStreamAppendFailure(ctx)
	})
}

func (m *MultiPublisher) PublishCacheSize(ctx context.Context, size int) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishCacheSize(ctx, size)
	})
}

func (m *MultiPublisher) PublishCacheEvictions(ctx context.Context, count int, reason string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishCacheEvictions(ctx, count, reason)
	})
}

func (m *MultiPublisher) PublishIngestReceived(ctx context.Context, count int) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishIngestReceived(ctx, count)
	})
}

func (m *MultiPublisher) PublishIngestAckFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishIngestAckFailure(ctx)
	})
}

func (m *MultiPublisher) PublishSchedulingFailure(ctx context.Context, task string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishSchedulingFailure(ctx, task)
	})
}

func (m *MultiPublisher) PublishServiceCheck(ctx context.Context, name string, status int, message string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishServiceCheck(ctx, name, status, message)
	})
}

func (m *MultiPublisher) PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishEvent(ctx, title, text, alertType, tags)
	})
}
