package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crosslane/arb-relay/pkg/alert"
	"github.com/crosslane/arb-relay/pkg/config"
	"github.com/crosslane/arb-relay/pkg/logging"
)

var guardLog = logging.WithComponent(logging.LogTypeStream, "guard")

const (
	// DefaultFailureThreshold is the consecutive append failures before the
	// guard opens.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long the guard stays open before probing the
	// backend again.
	DefaultCooldown = 30 * time.Second
)

// ErrAppendGuardOpen is returned while the guard is open and appends fail fast.
var ErrAppendGuardOpen = errors.New("stream guard open: appends suspended")

// guardState tracks the breaker position.
type guardState string

const (
	guardClosed   guardState = "closed"
	guardOpen     guardState = "open"
	guardHalfOpen guardState = "half-open"
)

// Guard wraps an Appender with a consecutive-failure breaker. While open,
// appends fail fast instead of hammering a down backend; after the cooldown
// a single probe append decides whether to close again. Opening and closing
// each fire one alert.
type Guard struct {
	next      Appender
	sink      alert.Sink
	threshold int
	cooldown  time.Duration

	instanceID string
	region     string

	mu       sync.Mutex
	state    guardState
	failures int
	openedAt time.Time
	probing  bool
}

// NewGuard wraps next with failure protection. sink may be nil, in which
// case state changes are only logged.
func NewGuard(next Appender, sink alert.Sink, instanceID, region string) *Guard {
	return &Guard{
		next:       next,
		sink:       sink,
		threshold:  DefaultFailureThreshold,
		cooldown:   DefaultCooldown,
		instanceID: instanceID,
		region:     region,
		state:      guardClosed,
	}
}

// Append implements Appender.
func (g *Guard) Append(ctx context.Context, streamName string, record []byte) (string, error) {
	if !g.allow() {
		return "", ErrAppendGuardOpen
	}

	id, err := g.next.Append(ctx, streamName, record)
	if err != nil {
		g.recordFailure(err)
		return "", err
	}

	g.recordSuccess()
	return id, nil
}

// allow reports whether an append may proceed, moving open to half-open
// after the cooldown. Half-open admits exactly one in-flight probe; other
// callers keep failing fast until it resolves.
func (g *Guard) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case guardClosed:
		return true
	case guardHalfOpen:
		if g.probing {
			return false
		}
		g.probing = true
		return true
	case guardOpen:
		if time.Since(g.openedAt) >= g.cooldown {
			g.state = guardHalfOpen
			g.probing = true
			return true
		}
		return false
	}
	return true
}

func (g *Guard) recordFailure(cause error) {
	g.mu.Lock()

	if g.state == guardHalfOpen {
		// The probe failed; reopen for another cooldown.
		g.state = guardOpen
		g.openedAt = time.Now()
		g.probing = false
		g.mu.Unlock()
		return
	}

	g.failures++
	if g.failures < g.threshold || g.state == guardOpen {
		g.mu.Unlock()
		return
	}

	g.state = guardOpen
	g.openedAt = time.Now()
	failures := g.failures
	g.mu.Unlock()

	guardLog.Warn("stream guard opened",
		slog.Int(logging.KeyCount, failures),
		slog.String(logging.KeyError, cause.Error()))
	g.fire(alert.TypeStreamHalted, cause.Error())
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	reopened := g.state != guardClosed
	g.state = guardClosed
	g.failures = 0
	g.probing = false
	g.mu.Unlock()

	if reopened {
		guardLog.Info("stream guard closed")
		g.fire(alert.TypeStreamResumed, "")
	}
}

// fire delivers a state-change alert on a fresh context; the append context
// that tripped the guard is usually already expired.
func (g *Guard) fire(eventType, reason string) {
	if g.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.AlertTimeout)
	defer cancel()

	ev := alert.Event{
		Type:       eventType,
		Reason:     reason,
		InstanceID: g.instanceID,
		Region:     g.region,
		At:         time.Now(),
	}
	if err := g.sink.Publish(ctx, ev); err != nil {
		guardLog.Warn("guard alert delivery failed", slog.String(logging.KeyError, err.Error()))
	}
}

// Compile-time interface check.
var _ Appender = (*Guard)(nil)
