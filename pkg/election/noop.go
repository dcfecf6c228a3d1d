package election

import "context"

// NoopElector reports this instance as the permanent leader. Used for local
// development with the "none" lock backend, where a single process runs
// without distributed coordination.
type NoopElector struct{}

// NewNoopElector creates a NoopElector.
func NewNoopElector() *NoopElector {
	return &NoopElector{}
}

// Start is a no-op.
func (*NoopElector) Start(_ context.Context) error {
	log.Info("using no-op elector (always leader)")
	return nil
}

// IsLeader always returns true.
func (*NoopElector) IsLeader() bool { return true }

// Epoch always returns zero; no fencing is in effect without a lockstore.
func (*NoopElector) Epoch() int64 { return 0 }

// Snapshot reports a permanent leader at epoch zero.
func (*NoopElector) Snapshot() Snapshot {
	return Snapshot{State: StateLeader, Leader: true, Epoch: 0}
}

// Resign is a no-op; a no-op elector cannot stand down.
func (*NoopElector) Resign(_ context.Context) error { return nil }

// Stop is a no-op.
func (*NoopElector) Stop(_ context.Context) error { return nil }

// Compile-time interface check.
var _ Elector = (*NoopElector)(nil)
