// Package election implements lease-based leader election with fencing
// epochs. One elector runs per regional instance; the lockstore's atomic
// primitives guarantee at most one instance holds the lease at a time.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/crosslane/arb-relay/pkg/alert"
	"github.com/crosslane/arb-relay/pkg/config"
	"github.com/crosslane/arb-relay/pkg/lockstore"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/scheduler"
)

var log = logging.WithComponent(logging.LogTypeElection, "elector")

// Election states.
const (
	StateCandidate = "CANDIDATE"
	StateAcquiring = "ACQUIRING"
	StateLeader    = "LEADER"
	StateFollower  = "FOLLOWER"
	StateDemoting  = "DEMOTING"
	StateStopped   = "STOPPED"
)

// renewalTask is the scheduler name for the periodic acquire-or-renew tick.
const renewalTask = "lease-renewal"

// ErrNotStarted is returned by Start when the elector is not in its initial state.
var ErrNotStarted = errors.New("elector already started or stopped")

// Snapshot is an atomically consistent view of the election state. Leader
// and Epoch are read together so callers never observe a torn pair where
// the epoch has advanced but the leader flag has not flipped.
type Snapshot struct {
	State  string
	Leader bool
	Epoch  int64
}

// Elector is the leadership contract consumed by the publish path and the
// admin API.
type Elector interface {
	Start(ctx context.Context) error
	IsLeader() bool
	Epoch() int64
	Snapshot() Snapshot
	Resign(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Scheduler registers the renewal tick.
type Scheduler interface {
	Register(name string, interval time.Duration, fn scheduler.Task) error
	Cancel(name string) bool
}

// Metrics defines metrics operations for election transitions.
type Metrics interface {
	PublishLeadershipStatus(ctx context.Context, leading bool) error
	PublishEpoch(ctx context.Context, epoch int64) error
	PublishLeaderAcquired(ctx context.Context) error
	PublishLeaderLost(ctx context.Context) error
	PublishRenewalFailure(ctx context.Context) error
	PublishRenewalLatency(ctx context.Context, d time.Duration) error
}

// Config holds elector settings, all validated by pkg/config before the
// elector is constructed.
type Config struct {
	InstanceID string
	Region     string

	// LeaseName is the single lock resource the regions contend on.
	LeaseName string

	// LeaseTTL is how long the lease survives without renewal.
	LeaseTTL time.Duration

	// RenewalInterval drives the acquire-or-renew tick. Must be strictly
	// less than LeaseTTL so one missed tick does not lose the lease.
	RenewalInterval time.Duration

	// StoreTimeout bounds each lockstore call. Must be less than LeaseTTL.
	StoreTimeout time.Duration

	// ResignHoldoff is how long a resigned leader waits before contending
	// for the lease again.
	ResignHoldoff time.Duration
}

// LeaseElector drives the election state machine against a lockstore.
//
// CANDIDATE -> ACQUIRING on Start; ACQUIRING/FOLLOWER -> LEADER on a won
// acquisition; LEADER -> DEMOTING -> FOLLOWER on any renewal failure;
// STOPPED is terminal.
type LeaseElector struct {
	cfg     Config
	store   lockstore.Store
	sched   Scheduler
	alerts  alert.Sink
	metrics Metrics

	// onTransition is invoked after every state change with the new
	// snapshot; the server wires it to the instance registry.
	onTransition func(Snapshot)

	mu           sync.RWMutex
	state        string
	token        string
	epoch        int64
	holdoffUntil time.Time

	// inFlight serializes acquire/renew attempts; a tick arriving while
	// the previous attempt is still running is skipped, never queued.
	inFlight atomic.Bool
}

// New creates a LeaseElector. alerts and metrics may be nil; transitions are
// then only logged. onTransition may be nil.
func New(cfg Config, store lockstore.Store, sched Scheduler, alerts alert.Sink, metrics Metrics, onTransition func(Snapshot)) *LeaseElector {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LeaseElector{
		cfg:          cfg,
		store:        store,
		sched:        sched,
		alerts:       alerts,
		metrics:      metrics,
		onTransition: onTransition,
		state:        StateCandidate,
	}
}

// Start transitions CANDIDATE -> ACQUIRING, makes an immediate acquisition
// attempt, and registers the renewal tick. It returns an error only for
// misuse or scheduler registration failure; not winning the lease is the
// normal follower outcome, not an error.
func (e *LeaseElector) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateCandidate {
		e.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotStarted, e.state)
	}
	e.state = StateAcquiring
	e.mu.Unlock()

	log.Info("election started",
		slog.String(logging.KeyInstanceID, e.cfg.InstanceID),
		slog.String(logging.KeyLeaseName, e.cfg.LeaseName),
		slog.Int64(logging.KeyDuration, e.cfg.RenewalInterval.Milliseconds()))

	e.tick(ctx)

	if err := e.sched.Register(renewalTask, e.cfg.RenewalInterval, func(ctx context.Context) error {
		e.tick(ctx)
		return nil
	}); err != nil {
		return fmt.Errorf("register renewal task: %w", err)
	}
	return nil
}

// IsLeader reports whether this instance currently holds the lease. Cheap
// enough for the publish hot path.
func (e *LeaseElector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateLeader
}

// Epoch returns the fencing epoch of the last successful acquisition. While
// not leading it is diagnostic only; use Snapshot on the publish path.
func (e *LeaseElector) Epoch() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

// Snapshot returns the state, leader flag, and epoch read under one lock.
func (e *LeaseElector) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{State: e.state, Leader: e.state == StateLeader, Epoch: e.epoch}
}

// Resign releases the lease without shutting down, used for failover drills.
// The instance drops to FOLLOWER and stays out of contention for the
// configured holdoff, then stands for election again on a later tick.
func (e *LeaseElector) Resign(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateLeader {
		e.mu.Unlock()
		return nil
	}
	token := e.token
	epoch := e.epoch
	e.state = StateFollower
	e.token = ""
	e.holdoffUntil = time.Now().Add(e.cfg.ResignHoldoff)
	e.mu.Unlock()

	releaseCtx, cancel := context.WithTimeout(ctx, config.ReleaseTimeout)
	defer cancel()
	if err := e.store.Release(releaseCtx, e.cfg.LeaseName, token); err != nil {
		log.Warn("best-effort lease release failed",
			slog.Int64(logging.KeyEpoch, epoch),
			slog.String(logging.KeyError, err.Error()))
	}

	log.Info("resigned leadership",
		slog.Int64(logging.KeyEpoch, epoch),
		slog.Int64(logging.KeyDuration, e.cfg.ResignHoldoff.Milliseconds()))
	e.emit(ctx, alert.TypeLeaderLost, epoch, "resigned")
	e.publishLeadership(ctx, false)
	e.notify()
	return nil
}

// Stop cancels the renewal tick first, so no renewal can race the release,
// then best-effort releases a held lease and enters the terminal state.
func (e *LeaseElector) Stop(ctx context.Context) error {
	e.sched.Cancel(renewalTask)

	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	wasLeader := e.state == StateLeader
	token := e.token
	epoch := e.epoch
	e.state = StateStopped
	e.token = ""
	e.mu.Unlock()

	if wasLeader {
		// Graceful release spares the other regions a full TTL wait.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ReleaseTimeout)
		defer cancel()
		if err := e.store.Release(releaseCtx, e.cfg.LeaseName, token); err != nil {
			log.Warn("best-effort lease release failed",
				slog.Int64(logging.KeyEpoch, epoch),
				slog.String(logging.KeyError, err.Error()))
		}
		e.emit(ctx, alert.TypeLeaderLost, epoch, "shutdown")
		e.publishLeadership(ctx, false)
	}

	log.Info("elector stopped", slog.String(logging.KeyInstanceID, e.cfg.InstanceID))
	e.notify()
	return nil
}

// tick runs one acquire-or-renew attempt. At most one attempt is in flight;
// overlapping ticks are dropped so a slow store call can never be overtaken
// by a later attempt carrying staler state.
func (e *LeaseElector) tick(ctx context.Context) {
	if !e.inFlight.CompareAndSwap(false, true) {
		log.Warn("skipping tick, previous attempt still in flight")
		return
	}
	defer e.inFlight.Store(false)

	if e.IsLeader() {
		e.renew(ctx)
	} else {
		e.acquire(ctx)
	}
}

// acquire attempts a fresh acquisition with a new owner token. Store errors
// are never fatal: remaining a follower is always safe, and the next tick
// retries.
func (e *LeaseElector) acquire(ctx context.Context) {
	e.mu.RLock()
	state := e.state
	holdoff := e.holdoffUntil
	e.mu.RUnlock()

	if state == StateStopped {
		return
	}
	if time.Now().Before(holdoff) {
		return
	}

	token := uuid.New().String()
	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	epoch, ok, err := e.store.Acquire(storeCtx, e.cfg.LeaseName, token, e.cfg.LeaseTTL)
	if err != nil {
		log.Warn("lease acquisition attempt failed",
			slog.String(logging.KeyLeaseName, e.cfg.LeaseName),
			slog.String(logging.KeyError, err.Error()))
		return
	}
	if !ok {
		e.mu.Lock()
		changed := e.state != StateFollower && e.state != StateStopped
		if changed {
			e.state = StateFollower
		}
		e.mu.Unlock()
		if changed {
			log.Info("lease held by another instance, following",
				slog.String(logging.KeyLeaseName, e.cfg.LeaseName))
			e.notify()
		}
		return
	}

	e.mu.Lock()
	if e.state == StateStopped {
		// Lost the race with Stop; give the lease back.
		e.mu.Unlock()
		releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), config.ReleaseTimeout)
		defer cancelRelease()
		if err := e.store.Release(releaseCtx, e.cfg.LeaseName, token); err != nil {
			log.Warn("post-stop lease release failed", slog.String(logging.KeyError, err.Error()))
		}
		return
	}
	e.state = StateLeader
	e.token = token
	e.epoch = epoch
	e.mu.Unlock()

	log.Info("acquired leadership",
		slog.String(logging.KeyInstanceID, e.cfg.InstanceID),
		slog.Int64(logging.KeyEpoch, epoch))
	e.emit(ctx, alert.TypeLeaderAcquired, epoch, "")
	if err := e.metrics.PublishLeaderAcquired(ctx); err != nil {
		log.Warn("failed to publish leader acquired metric", slog.String(logging.KeyError, err.Error()))
	}
	e.publishLeadership(ctx, true)
	if err := e.metrics.PublishEpoch(ctx, epoch); err != nil {
		log.Warn("failed to publish epoch metric", slog.String(logging.KeyError, err.Error()))
	}
	e.notify()
}

// renew extends the held lease. Any failure, error, or timeout demotes:
// expiry is inferred rather than announced, so store trouble must be read
// as "leadership may already be lost."
func (e *LeaseElector) renew(ctx context.Context) {
	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	started := time.Now()
	ok, err := e.store.Renew(storeCtx, e.cfg.LeaseName, token, e.cfg.LeaseTTL)
	if latencyErr := e.metrics.PublishRenewalLatency(ctx, time.Since(started)); latencyErr != nil {
		log.Warn("failed to publish renewal latency metric", slog.String(logging.KeyError, latencyErr.Error()))
	}

	switch {
	case err != nil:
		e.demote(ctx, fmt.Sprintf("renewal error: %v", err))
	case !ok:
		e.demote(ctx, "lease lost to another owner")
	}
}

// demote runs the DEMOTING -> FOLLOWER transition after a failed renewal.
func (e *LeaseElector) demote(ctx context.Context, reason string) {
	e.mu.Lock()
	if e.state != StateLeader {
		e.mu.Unlock()
		return
	}
	epoch := e.epoch
	e.state = StateDemoting
	e.token = ""
	e.mu.Unlock()
	e.notify()

	log.Error("lease renewal failed, demoting",
		slog.Int64(logging.KeyEpoch, epoch),
		slog.String(logging.KeyReason, reason))
	e.emit(ctx, alert.TypeLeaderRenewalFailed, epoch, reason)
	if err := e.metrics.PublishRenewalFailure(ctx); err != nil {
		log.Warn("failed to publish renewal failure metric", slog.String(logging.KeyError, err.Error()))
	}

	e.mu.Lock()
	e.state = StateFollower
	e.mu.Unlock()

	e.emit(ctx, alert.TypeLeaderLost, epoch, reason)
	if err := e.metrics.PublishLeaderLost(ctx); err != nil {
		log.Warn("failed to publish leader lost metric", slog.String(logging.KeyError, err.Error()))
	}
	e.publishLeadership(ctx, false)
	e.notify()
}

// emit delivers an alert on a bounded context. Sink failures are logged and
// never propagate into the election flow.
func (e *LeaseElector) emit(ctx context.Context, eventType string, epoch int64, reason string) {
	if e.alerts == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AlertTimeout)
	defer cancel()

	ev := alert.Event{
		Type:       eventType,
		Epoch:      epoch,
		Reason:     reason,
		InstanceID: e.cfg.InstanceID,
		Region:     e.cfg.Region,
		At:         time.Now().UTC(),
	}
	if err := e.alerts.Publish(alertCtx, ev); err != nil {
		log.Warn("failed to publish alert",
			slog.String(logging.KeyAction, eventType),
			slog.String(logging.KeyError, err.Error()))
	}
}

func (e *LeaseElector) publishLeadership(ctx context.Context, leading bool) {
	if err := e.metrics.PublishLeadershipStatus(ctx, leading); err != nil {
		log.Warn("failed to publish leadership metric", slog.String(logging.KeyError, err.Error()))
	}
}

func (e *LeaseElector) notify() {
	if e.onTransition != nil {
		e.onTransition(e.Snapshot())
	}
}

type noopMetrics struct{}

func (noopMetrics) PublishLeadershipStatus(context.Context, bool) error       { return nil }
func (noopMetrics) PublishEpoch(context.Context, int64) error                 { return nil }
func (noopMetrics) PublishLeaderAcquired(context.Context) error               { return nil }
func (noopMetrics) PublishLeaderLost(context.Context) error                   { return nil }
func (noopMetrics) PublishRenewalFailure(context.Context) error               { return nil }
func (noopMetrics) PublishRenewalLatency(context.Context, time.Duration) error { return nil }

// Compile-time interface check.
var _ Elector = (*LeaseElector)(nil)
