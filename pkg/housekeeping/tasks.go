// Package housekeeping bundles the periodic maintenance tasks and registers
// them on the scheduler: dedupe cache cleanup, the per-instance status
// heartbeat, and the daily activity report.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/crosslane/arb-relay/pkg/election"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/scheduler"
	"github.com/crosslane/arb-relay/pkg/state"
)

// Task names as they appear in the scheduler and in logs.
const (
	TaskCacheCleanup = "cache-cleanup"
	TaskHeartbeat    = "registry-heartbeat"
	TaskDailyReport  = "daily-report"
)

// CacheJanitor is the dedupe cache maintenance surface.
type CacheJanitor interface {
	Cleanup(ctx context.Context) error
	CacheSize() int
}

// Leadership reports the current election state for the heartbeat.
type Leadership interface {
	Snapshot() election.Snapshot
}

// StatusRegistry writes the per-instance status record.
type StatusRegistry interface {
	Put(ctx context.Context, status *state.InstanceStatus) error
}

// Reporter generates the daily activity report.
type Reporter interface {
	GenerateDailyReport(ctx context.Context) error
}

// Registrar schedules named periodic callbacks.
type Registrar interface {
	Register(name string, interval time.Duration, fn scheduler.Task) error
}

// Intervals holds per-task schedules.
type Intervals struct {
	CacheCleanup time.Duration
	Heartbeat    time.Duration
	DailyReport  time.Duration
}

// DefaultIntervals returns the default task schedules.
func DefaultIntervals() Intervals {
	return Intervals{
		CacheCleanup: time.Minute,
		Heartbeat:    30 * time.Second,
		DailyReport:  24 * time.Hour,
	}
}

// Tasks implements the housekeeping task set.
type Tasks struct {
	janitor    CacheJanitor
	leadership Leadership
	registry   StatusRegistry
	reporter   Reporter
	instanceID string
	region     string
	log        *logging.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewTasks creates the task set. registry and reporter may be nil, in which
// case the corresponding task is not registered.
func NewTasks(instanceID, region string, janitor CacheJanitor, leadership Leadership, registry StatusRegistry, reporter Reporter) *Tasks {
	return &Tasks{
		janitor:    janitor,
		leadership: leadership,
		registry:   registry,
		reporter:   reporter,
		instanceID: instanceID,
		region:     region,
		log:        logging.WithComponent(logging.LogTypeHousekeep, "tasks"),
		now:        time.Now,
	}
}

// RegisterAll registers every applicable task on the scheduler.
func (t *Tasks) RegisterAll(sched Registrar, iv Intervals) error {
	if err := sched.Register(TaskCacheCleanup, iv.CacheCleanup, t.ExecuteCacheCleanup); err != nil {
		return fmt.Errorf("failed to register %s: %w", TaskCacheCleanup, err)
	}

	if !isNilInterface(t.registry) {
		if err := sched.Register(TaskHeartbeat, iv.Heartbeat, t.ExecuteHeartbeat); err != nil {
			return fmt.Errorf("failed to register %s: %w", TaskHeartbeat, err)
		}
	}

	if !isNilInterface(t.reporter) {
		if err := sched.Register(TaskDailyReport, iv.DailyReport, t.ExecuteDailyReport); err != nil {
			return fmt.Errorf("failed to register %s: %w", TaskDailyReport, err)
		}
	}

	return nil
}

// ExecuteCacheCleanup runs one TTL and size pass over the dedupe cache.
func (t *Tasks) ExecuteCacheCleanup(ctx context.Context) error {
	before := t.janitor.CacheSize()
	if err := t.janitor.Cleanup(ctx); err != nil {
		return fmt.Errorf("cache cleanup failed: %w", err)
	}

	removed := before - t.janitor.CacheSize()
	if removed > 0 {
		t.log.Debug("cache entries removed",
			slog.Int(logging.KeyCount, removed),
			slog.Int(logging.KeyCacheSize, t.janitor.CacheSize()))
	}
	return nil
}

// ExecuteHeartbeat writes this instance's status record to the registry.
func (t *Tasks) ExecuteHeartbeat(ctx context.Context) error {
	snap := t.leadership.Snapshot()

	status := &state.InstanceStatus{
		InstanceID: t.instanceID,
		Region:     t.region,
		State:      snap.State,
		Leader:     snap.Leader,
		Epoch:      snap.Epoch,
		CacheSize:  t.janitor.CacheSize(),
		UpdatedAt:  t.now().UTC(),
	}

	if err := t.registry.Put(ctx, status); err != nil {
		return fmt.Errorf("heartbeat write failed: %w", err)
	}
	return nil
}

// ExecuteDailyReport generates the daily activity report.
func (t *Tasks) ExecuteDailyReport(ctx context.Context) error {
	if isNilInterface(t.reporter) {
		return nil
	}
	return t.reporter.GenerateDailyReport(ctx)
}

func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
