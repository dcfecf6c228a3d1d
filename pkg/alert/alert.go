// Package alert delivers operator-facing leadership and distribution events
// to one or more sinks: structured logs, SNS, and CloudWatch Logs.
package alert

import (
	"context"
	"time"
)

// Event types.
const (
	// TypeLeaderAcquired fires when this instance wins the lease.
	TypeLeaderAcquired = "LEADER_ACQUIRED"
	// TypeLeaderLost fires when leadership ends, whether by renewal failure,
	// resignation, or shutdown.
	TypeLeaderLost = "LEADER_LOST"
	// TypeLeaderRenewalFailed fires when a renewal attempt fails while
	// leading; it always precedes the matching TypeLeaderLost.
	TypeLeaderRenewalFailed = "LEADER_RENEWAL_FAILED"
	// TypeStreamHalted fires once when the append guard opens after
	// consecutive stream failures.
	TypeStreamHalted = "STREAM_APPEND_HALTED"
	// TypeStreamResumed fires once when the append guard closes again.
	TypeStreamResumed = "STREAM_APPEND_RESUMED"
)

// Event is a single alert. Epoch carries the fencing epoch of the leadership
// term the event belongs to; it is zero for stream events.
type Event struct {
	Type       string    `json:"type"`
	Epoch      int64     `json:"epoch,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	InstanceID string    `json:"instance_id"`
	Region     string    `json:"region"`
	At         time.Time `json:"at"`
}

// Sink delivers events. Implementations must tolerate concurrent calls.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}
