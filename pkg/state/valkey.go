// Package state provides the per-instance status registry. Each regional
// process writes its election state and cache size under a TTL so the admin
// API can answer "which region leads right now" without asking every region.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InstanceStatus is one region's self-reported status record.
type InstanceStatus struct {
	InstanceID string    `json:"instance_id"`
	Region     string    `json:"region"`
	State      string    `json:"state"`
	Leader     bool      `json:"leader"`
	Epoch      int64     `json:"epoch"`
	CacheSize  int       `json:"cache_size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Registry is the instance-status contract consumed by the admin API and
// the heartbeat task.
type Registry interface {
	Put(ctx context.Context, status *InstanceStatus) error
	Get(ctx context.Context, instanceID string) (*InstanceStatus, error)
	List(ctx context.Context) ([]*InstanceStatus, error)
	Delete(ctx context.Context, instanceID string) error
}

// ValkeyRegistry implements Registry on Valkey. Status records carry a TTL
// so a crashed instance ages out of listings instead of lingering forever;
// the index set is repaired lazily on List.
type ValkeyRegistry struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewValkeyRegistryWithClient creates a registry with an existing client
// (for testing).
func NewValkeyRegistryWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *ValkeyRegistry {
	if keyPrefix == "" {
		keyPrefix = "arb-relay:"
	}
	return &ValkeyRegistry{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *ValkeyRegistry) instanceKey(instanceID string) string {
	return r.keyPrefix + "instance:" + instanceID
}

func (r *ValkeyRegistry) indexKey() string {
	return r.keyPrefix + "instances:index"
}

// Put writes the status record with the registry TTL and adds the instance
// to the index atomically.
func (r *ValkeyRegistry) Put(ctx context.Context, status *InstanceStatus) error {
	if status == nil {
		return fmt.Errorf("status cannot be nil")
	}
	if status.InstanceID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}

	status.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal instance status: %w", err)
	}

	// TxPipeline wraps in MULTI/EXEC for atomic execution
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.indexKey(), status.InstanceID)
	pipe.Set(ctx, r.instanceKey(status.InstanceID), data, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save instance status: %w", err)
	}
	return nil
}

// Get retrieves one instance's status. A missing or expired record returns
// (nil, nil).
func (r *ValkeyRegistry) Get(ctx context.Context, instanceID string) (*InstanceStatus, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id cannot be empty")
	}

	data, err := r.client.Get(ctx, r.instanceKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance status: %w", err)
	}

	var status InstanceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance status: %w", err)
	}
	return &status, nil
}

// List returns every live instance's status. Index members whose status
// record has expired are removed from the index as a side effect.
func (r *ValkeyRegistry) List(ctx context.Context) ([]*InstanceStatus, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var out []*InstanceStatus
	for _, id := range ids {
		status, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if status == nil {
			// Record expired; drop the stale index member.
			if err := r.client.SRem(ctx, r.indexKey(), id).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune instance index: %w", err)
			}
			continue
		}
		out = append(out, status)
	}
	return out, nil
}

// Delete removes the status record and index membership atomically. Called
// on graceful shutdown so other regions see the departure immediately.
func (r *ValkeyRegistry) Delete(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}

	// TxPipeline wraps in MULTI/EXEC for atomic execution
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.indexKey(), instanceID)
	pipe.Del(ctx, r.instanceKey(instanceID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete instance status: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (r *ValkeyRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Valkey client connection.
func (r *ValkeyRegistry) Close() error {
	return r.client.Close()
}

// Compile-time interface check.
var _ Registry = (*ValkeyRegistry)(nil)
