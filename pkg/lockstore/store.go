// Package lockstore provides the lease primitive behind leader election.
// Backends implement atomic set-if-absent acquisition, compare-owner renewal,
// and compare-owner release against Valkey, DynamoDB, or Kubernetes Leases.
package lockstore

import (
	"context"
	"time"
)

// Store is the lease contract. A lease key has at most one non-expired owner
// token at a time; the store enforces that with its own atomic primitives.
//
// Acquire also maintains the fencing epoch for the key: every fresh
// acquisition observes an epoch strictly greater than any previously issued
// one, across all processes and lease handoffs. Renewal never changes the
// epoch.
type Store interface {
	// Acquire sets key=token with the given TTL only if the key is absent
	// or expired. ok reports whether this caller now holds the lease; when
	// ok, epoch is the freshly advanced fencing epoch. A held lease is not
	// an error.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (epoch int64, ok bool, err error)

	// Renew extends the TTL only while key still equals token. ok is false
	// when the lease was lost to another owner or expired; that is not an
	// error.
	Renew(ctx context.Context, key, token string, ttl time.Duration) (ok bool, err error)

	// Release deletes or expires the lease only while key still equals
	// token. Best-effort: losing the race to another owner returns nil.
	Release(ctx context.Context, key, token string) error
}
