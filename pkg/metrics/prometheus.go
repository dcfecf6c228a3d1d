package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrometheusNamespace = "arb_relay"

// PrometheusPublisher publishes metrics to Prometheus via /metrics endpoint.
// All Publisher interface methods are documented on the Publisher interface.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	leadershipStatus        prometheus.Gauge
	leaderEpoch             prometheus.Gauge
	leaderAcquired          prometheus.Counter
	leaderLost              prometheus.Counter
	renewalFailures         prometheus.Counter
	renewalLatency          prometheus.Histogram
	opportunitiesPublished  *prometheus.CounterVec
	opportunitiesSuppressed *prometheus.CounterVec
	streamAppendFailures    prometheus.Counter
	cacheSize               prometheus.Gauge
	cacheEvictions          *prometheus.CounterVec
	ingestReceived          prometheus.Counter
	ingestAckFailures       prometheus.Counter
	schedulingFailure       *prometheus.CounterVec
}

// Ensure PrometheusPublisher implements Publisher.
var _ Publisher = (*PrometheusPublisher)(nil)

// PrometheusConfig holds configuration for the Prometheus publisher.
type PrometheusConfig struct {
	Namespace string
}

// NewPrometheusPublisher creates a Prometheus metrics publisher.
func NewPrometheusPublisher(cfg PrometheusConfig) *PrometheusPublisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultPrometheusNamespace
	}

	registry := prometheus.NewRegistry()

	p := &PrometheusPublisher{
		registry: registry,

		leadershipStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "leadership_status",
			Help:      "Whether this instance currently holds the leader lease (1) or not (0)",
		}),
		leaderEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "leader_epoch",
			Help:      "Fencing epoch of the most recent lease acquisition",
		}),
		leaderAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leader_acquired_total",
			Help:      "Total number of leadership acquisitions",
		}),
		leaderLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leader_lost_total",
			Help:      "Total number of leadership losses",
		}),
		renewalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "renewal_failures_total",
			Help:      "Total number of lease renewal failures",
		}),
		renewalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "renewal_latency_seconds",
			Help:      "Lease renewal round-trip latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		opportunitiesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "opportunities_published_total",
			Help:      "Total number of opportunities published to the canonical stream",
		}, []string{"source_chain", "target_chain"}),
		opportunitiesSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "opportunities_suppressed_total",
			Help:      "Total number of opportunity publications suppressed",
		}, []string{"reason"}),
		streamAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_append_failures_total",
			Help:      "Total number of stream append failures",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_size",
			Help:      "Current number of entries in the dedupe cache",
		}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of dedupe cache entries evicted",
		}, []string{"reason"}),
		ingestReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "ingest_received_total",
			Help:      "Total number of messages fetched from the raw stream",
		}),
		ingestAckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "ingest_ack_failures_total",
			Help:      "Total number of message acknowledgement failures",
		}),
		schedulingFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "scheduling_failure_total",
			Help:      "Total number of scheduled task failures",
		}, []string{"task"}),
	}

	registry.MustRegister(
		p.leadershipStatus,
		p.leaderEpoch,
		p.leaderAcquired,
		p.leaderLost,
		p.renewalFailures,
		p.renewalLatency,
		p.opportunitiesPublished,
		p.opportunitiesSuppressed,
		p.streamAppendFailures,
		p.cacheSize,
		p.cacheEvictions,
		p.ingestReceived,
		p.ingestAckFailures,
		p.schedulingFailure,
	)

	return p
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry for custom integrations.
func (p *PrometheusPublisher) Registry() *prometheus.Registry {
	return p.registry
}

// Close implements Publisher.Close. Prometheus registry doesn't require cleanup.
func (p *PrometheusPublisher) Close() error {
	return nil
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *PrometheusPublisher) PublishLeadershipStatus(_ context.Context, leading bool) error { //nolint:revive
	if leading {
		p.leadershipStatus.Set(1)
	} else {
		p.leadershipStatus.Set(0)
	}
	return nil
}

func (p *PrometheusPublisher) PublishEpoch(_ context.Context, epoch int64) error { //nolint:revive
	p.leaderEpoch.Set(float64(epoch))
	return nil
}

func (p *PrometheusPublisher) PublishLeaderAcquired(_ context.Context) error { //nolint:revive
	p.leaderAcquired.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishLeaderLost(_ context.Context) error { //nolint:revive
	p.leaderLost.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishRenewalFailure(_ context.Context) error { //nolint:revive
	p.renewalFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishRenewalLatency(_ context.Context, d time.Duration) error { //nolint:revive
	p.renewalLatency.Observe(d.Seconds())
	return nil
}

func (p *PrometheusPublisher) PublishOpportunityPublished(_ context.Context, sourceChain, targetChain string) error { //nolint:revive
	p.opportunitiesPublished.WithLabelValues(sourceChain, targetChain).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishOpportunitySuppressed(_ context.Context, reason string) error { //nolint:revive
	p.opportunitiesSuppressed.WithLabelValues(reason).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishStreamAppendFailure(_ context.Context) error { //nolint:revive
	p.streamAppendFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishCacheSize(_ context.Context, size int) error { //nolint:revive
	p.cacheSize.Set(float64(size))
	return nil
}

func (p *PrometheusPublisher) PublishCacheEvictions(_ context.Context, count int, reason string) error { //nolint:revive
	p.cacheEvictions.WithLabelValues(reason).Add(float64(count))
	return nil
}

func (p *PrometheusPublisher) PublishIngestReceived(_ context.Context, count int) error { //nolint:revive
	p.ingestReceived.Add(float64(count))
	return nil
}

func (p *PrometheusPublisher) PublishIngestAckFailure(_ context.Context) error { //nolint:revive
	p.ingestAckFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishSchedulingFailure(_ context.Context, task string) error { //nolint:revive
	p.schedulingFailure.WithLabelValues(task).Inc()
	return nil
}

// PublishServiceCheck is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishServiceCheck(_ context.Context, _ string, _ int, _ string) error { //nolint:revive
	return nil
}

// PublishEvent is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}
