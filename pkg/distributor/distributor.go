// Package distributor implements the leader-gated opportunity publish path:
// deduplication by route within a time window, republication on material
// profit improvement, and a TTL- and size-bounded in-memory cache.
package distributor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/crosslane/arb-relay/pkg/election"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/opportunity"
	"github.com/crosslane/arb-relay/pkg/stream"
)

var log = logging.WithComponent(logging.LogTypeDistributor, "distributor")

// Suppression reasons, used as metric dimensions.
const (
	ReasonNotLeader        = "not_leader"
	ReasonDuplicate        = "duplicate"
	ReasonBelowImprovement = "below_improvement"
	ReasonAppendFailed     = "append_failed"
)

// Eviction reasons.
const (
	EvictTTL  = "ttl"
	EvictSize = "size"
)

// Leadership supplies the atomically consistent leader flag and fencing
// epoch read on every publish.
type Leadership interface {
	Snapshot() election.Snapshot
}

// Metrics defines metrics operations for the distributor.
type Metrics interface {
	PublishOpportunityPublished(ctx context.Context, sourceChain, targetChain string) error
	PublishOpportunitySuppressed(ctx context.Context, reason string) error
	PublishStreamAppendFailure(ctx context.Context) error
	PublishCacheSize(ctx context.Context, size int) error
	PublishCacheEvictions(ctx context.Context, count int, reason string) error
}

// Config holds distributor thresholds, validated by pkg/config.
type Config struct {
	// StreamName is the downstream opportunity stream.
	StreamName string

	// DedupeWindow suppresses repeats of the same route inside this
	// interval unless profit improves materially.
	DedupeWindow time.Duration

	// MinImprovement is the fractional net-profit gain that lets a repeat
	// through inside the window (0.1 = 10%).
	MinImprovement float64

	// MaxCacheSize bounds the dedupe cache entry count.
	MaxCacheSize int

	// CacheTTL evicts entries untouched for this long.
	CacheTTL time.Duration

	// TokenAliases normalizes venue symbols in published records.
	TokenAliases map[string]string
}

// Distributor owns the dedupe cache. All cache access is serialized through
// one mutex; publishes and cleanup may arrive concurrently and interleave
// onto a single timeline.
type Distributor struct {
	cfg      Config
	elector  Leadership
	appender stream.Appender
	metrics  Metrics

	// now is injectable for eviction-timing tests.
	now func() time.Time

	mu    sync.Mutex
	cache map[string]*opportunity.Opportunity
}

// New creates a Distributor. metrics may be nil.
func New(cfg Config, elector Leadership, appender stream.Appender, metrics Metrics) *Distributor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Distributor{
		cfg:      cfg,
		elector:  elector,
		appender: appender,
		metrics:  metrics,
		now:      time.Now,
		cache:    make(map[string]*opportunity.Opportunity),
	}
}

// Publish forwards the opportunity to the stream when this instance leads
// and the signal is not a near-duplicate. It reports whether the record was
// appended; both dedupe suppression and append failure read as false, with
// the distinction visible in logs and metrics only. It never panics and
// never propagates stream errors to the detection loop.
func (d *Distributor) Publish(ctx context.Context, opp *opportunity.Opportunity) bool {
	snap := d.elector.Snapshot()
	if !snap.Leader {
		// Followers never touch the stream or the cache entry; duplicate
		// publication across regions is the failure this gate exists for.
		d.countSuppressed(ctx, ReasonNotLeader)
		return false
	}

	key := opp.DedupeKey()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, exists := d.cache[key]; exists {
		if ok, reason := supersedes(opp, entry, now, d.cfg.DedupeWindow, d.cfg.MinImprovement); !ok {
			log.Debug("opportunity suppressed",
				slog.String(logging.KeyDedupeKey, key),
				slog.String(logging.KeyReason, reason),
				slog.Float64(logging.KeyNetProfit, opp.NetProfit))
			d.countSuppressed(ctx, reason)
			return false
		}
	}

	record := opportunity.NewRecord(opp, snap.Epoch, d.cfg.TokenAliases, now)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.TraceID = sc.TraceID().String()
		record.SpanID = sc.SpanID().String()
	}

	payload, err := record.Marshal()
	if err != nil {
		log.Error("failed to marshal record",
			slog.String(logging.KeyDedupeKey, key),
			slog.String(logging.KeyError, err.Error()))
		d.countSuppressed(ctx, ReasonAppendFailed)
		return false
	}

	id, err := d.appender.Append(ctx, d.cfg.StreamName, payload)
	if err != nil {
		// The cache is left untouched so the next detection cycle can
		// retry the same route.
		log.Error("stream append failed",
			slog.String(logging.KeyDedupeKey, key),
			slog.String(logging.KeyStream, d.cfg.StreamName),
			slog.String(logging.KeyError, err.Error()))
		if merr := d.metrics.PublishStreamAppendFailure(ctx); merr != nil {
			log.Warn("failed to publish append failure metric", slog.String(logging.KeyError, merr.Error()))
		}
		d.countSuppressed(ctx, ReasonAppendFailed)
		return false
	}

	cached := *opp
	cached.CreatedAt = now
	d.cache[key] = &cached

	log.Info("opportunity published",
		slog.String(logging.KeyRecordID, id),
		slog.String(logging.KeyDedupeKey, key),
		slog.Int64(logging.KeyEpoch, snap.Epoch),
		slog.Float64(logging.KeyNetProfit, opp.NetProfit))
	if merr := d.metrics.PublishOpportunityPublished(ctx, opp.SourceChain, opp.TargetChain); merr != nil {
		log.Warn("failed to publish opportunity metric", slog.String(logging.KeyError, merr.Error()))
	}

	if len(d.cache) > d.cfg.MaxCacheSize {
		evicted := d.evictOldestLocked()
		d.countEvictions(ctx, evicted, EvictSize)
	}
	d.publishCacheSize(ctx)

	return true
}

// supersedes decides whether a new signal for a cached route publishes. A
// non-positive cached profit always publishes: any signal improves on a
// losing or break-even base, and the ratio below is meaningless there (zero
// divides to NaN or Inf, a negative base flips the sign of the ratio).
func supersedes(opp, entry *opportunity.Opportunity, now time.Time, window time.Duration, minImprovement float64) (bool, string) {
	if now.Sub(entry.CreatedAt) >= window {
		return true, ""
	}
	if entry.NetProfit <= 0 {
		return true, ""
	}
	improvement := (opp.NetProfit - entry.NetProfit) / entry.NetProfit
	if improvement >= minImprovement {
		return true, ""
	}
	if improvement > 0 {
		return false, ReasonBelowImprovement
	}
	return false, ReasonDuplicate
}

// Cleanup evicts expired entries, then trims to the size cap. It runs on
// its own schedule regardless of leadership so a follower's cache stays
// bounded and a takeover starts from sane dedupe state. Pure in-memory.
func (d *Distributor) Cleanup(ctx context.Context) error {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	expired := 0
	for key, entry := range d.cache {
		if now.Sub(entry.CreatedAt) > d.cfg.CacheTTL {
			delete(d.cache, key)
			expired++
		}
	}
	if expired > 0 {
		d.countEvictions(ctx, expired, EvictTTL)
	}

	if len(d.cache) > d.cfg.MaxCacheSize {
		evicted := d.evictOldestLocked()
		d.countEvictions(ctx, evicted, EvictSize)
	}

	if expired > 0 {
		log.Info("cache cleanup",
			slog.Int(logging.KeyCount, expired),
			slog.Int(logging.KeyCacheSize, len(d.cache)))
	}
	d.publishCacheSize(ctx)
	return nil
}

// CacheSize returns the current dedupe cache entry count.
func (d *Distributor) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// Clear drops all dedupe state. Used after topology changes where stale
// entries could suppress legitimately new opportunities.
func (d *Distributor) Clear() {
	d.mu.Lock()
	n := len(d.cache)
	d.cache = make(map[string]*opportunity.Opportunity)
	d.mu.Unlock()

	log.Info("cache cleared", slog.Int(logging.KeyCount, n))
}

// evictOldestLocked removes oldest-by-CreatedAt entries until the cache is
// back at the cap. Linear scan plus sort is fine at the configured ceiling
// of a few thousand entries. Caller holds d.mu.
func (d *Distributor) evictOldestLocked() int {
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(d.cache))
	for key, entry := range d.cache {
		entries = append(entries, aged{key: key, at: entry.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	evicted := 0
	for _, e := range entries {
		if len(d.cache) <= d.cfg.MaxCacheSize {
			break
		}
		delete(d.cache, e.key)
		evicted++
	}
	return evicted
}

func (d *Distributor) countSuppressed(ctx context.Context, reason string) {
	if err := d.metrics.PublishOpportunitySuppressed(ctx, reason); err != nil {
		log.Warn("failed to publish suppression metric",
			slog.String(logging.KeyReason, reason),
			slog.String(logging.KeyError, err.Error()))
	}
}

func (d *Distributor) countEvictions(ctx context.Context, count int, reason string) {
	if count == 0 {
		return
	}
	if err := d.metrics.PublishCacheEvictions(ctx, count, reason); err != nil {
		log.Warn("failed to publish eviction metric", slog.String(logging.KeyError, err.Error()))
	}
}

func (d *Distributor) publishCacheSize(ctx context.Context) {
	if err := d.metrics.PublishCacheSize(ctx, len(d.cache)); err != nil {
		log.Warn("failed to publish cache size metric", slog.String(logging.KeyError, err.Error()))
	}
}

type noopMetrics struct{}

func (noopMetrics) PublishOpportunityPublished(context.Context, string, string) error { return nil }
func (noopMetrics) PublishOpportunitySuppressed(context.Context, string) error        { return nil }
func (noopMetrics) PublishStreamAppendFailure(context.Context) error                  { return nil }
func (noopMetrics) PublishCacheSize(context.Context, int) error                       { return nil }
func (noopMetrics) PublishCacheEvictions(context.Context, int, string) error          { return nil }
