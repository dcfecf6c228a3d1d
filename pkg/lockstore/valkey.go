package lockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireLua sets the lease key if absent and, only then, advances the
// fencing epoch held in a sibling key. The epoch key is never deleted, so
// every successful acquisition observes a strictly larger epoch than any
// earlier one regardless of which process acquired before.
const acquireLua = `
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
    return redis.call('INCR', KEYS[2])
end
return 0
`

// renewLua extends the lease TTL only if the caller still owns it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// releaseLua deletes the lease key only if its value matches the caller's
// token. This prevents one holder from releasing another holder's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// ValkeyStore implements Store on Valkey using SET NX PX plus Lua-based
// conditional renew/release.
type ValkeyStore struct {
	rdb       *redis.Client
	acquireSc *redis.Script
	renewSc   *redis.Script
	releaseSc *redis.Script
}

// NewValkeyStore creates a ValkeyStore backed by the given client.
func NewValkeyStore(rdb *redis.Client) *ValkeyStore {
	return &ValkeyStore{
		rdb:       rdb,
		acquireSc: redis.NewScript(acquireLua),
		renewSc:   redis.NewScript(renewLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// epochKey returns the sibling key holding the fencing epoch counter.
func epochKey(key string) string {
	return key + ":epoch"
}

// Acquire implements Store.
func (s *ValkeyStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (int64, bool, error) {
	epoch, err := s.acquireSc.Run(ctx, s.rdb, []string{key, epochKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("valkey: acquire lease %s: %w", key, err)
	}
	if epoch == 0 {
		return 0, false, nil
	}
	return epoch, true, nil
}

// Renew implements Store.
func (s *ValkeyStore) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := s.renewSc.Run(ctx, s.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("valkey: renew lease %s: %w", key, err)
	}
	return res == 1, nil
}

// Release implements Store.
func (s *ValkeyStore) Release(ctx context.Context, key, token string) error {
	if err := s.releaseSc.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("valkey: release lease %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Compile-time interface check.
var _ Store = (*ValkeyStore)(nil)
