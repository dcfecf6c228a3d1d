package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds configuration for the Vault credentials backend.
type VaultConfig struct {
	Address    string // VAULT_ADDR
	Namespace  string // VAULT_NAMESPACE (enterprise)
	KVMount    string // KV mount path (default: "secret")
	KVVersion  int    // 0=auto-detect, 1, 2
	Path       string // secret path under the mount (default: "arb-relay")
	AuthMethod string // "aws", "kubernetes", "approle", "token"

	// AWS IAM auth
	AWSRole   string
	AWSRegion string

	// Kubernetes auth
	K8sRole    string
	K8sJWTPath string

	// AppRole auth
	AppRoleID       string
	AppRoleSecretID string

	// Token auth (for testing/development)
	Token string
}

// VaultStore reads credentials from one KV entry in HashiCorp Vault.
type VaultStore struct {
	client    *api.Client
	kvMount   string
	path      string
	kvVersion int
}

// NewVaultStore creates a Vault-backed credentials store and authenticates
// with the configured method.
func NewVaultStore(ctx context.Context, cfg VaultConfig) (*VaultStore, error) {
	vaultCfg := api.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}
	// Bounded HTTP client; a hung Vault must not stall startup forever.
	vaultCfg.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := loginVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("vault authentication failed: %w", err)
	}

	store := NewVaultStoreWithClient(client, cfg.KVMount, cfg.Path, cfg.KVVersion)

	if cfg.KVVersion == 0 {
		version, err := store.detectKVVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to detect KV version: %w", err)
		}
		store.kvVersion = version
	}
	return store, nil
}

// NewVaultStoreWithClient creates a Vault store with a pre-configured client
// (for testing).
func NewVaultStoreWithClient(client *api.Client, kvMount, path string, kvVersion int) *VaultStore {
	if kvMount == "" {
		kvMount = DefaultVaultKVMount
	}
	if path == "" {
		path = DefaultVaultPath
	}
	if kvVersion == 0 {
		kvVersion = 2
	}
	return &VaultStore{
		client:    client,
		kvMount:   kvMount,
		path:      path,
		kvVersion: kvVersion,
	}
}

// detectKVVersion determines whether the KV engine is v1 or v2.
func (v *VaultStore) detectKVVersion(ctx context.Context) (int, error) {
	mounts, err := v.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list mounts for KV version detection: %w", err)
	}

	mount, ok := mounts[v.kvMount+"/"]
	if !ok {
		return 0, fmt.Errorf("KV mount %q not found", v.kvMount)
	}
	if mount.Options != nil && mount.Options["version"] == "1" {
		return 1, nil
	}
	return 2, nil
}

// Fetch reads the relay credential entry. A missing entry is an error: a
// deployment configured for Vault expects its material to exist.
func (v *VaultStore) Fetch(ctx context.Context) (*Credentials, error) {
	var data map[string]interface{}

	if v.kvVersion == 2 {
		secret, err := v.client.KVv2(v.kvMount).Get(ctx, v.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials from Vault: %w", err)
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("credentials not found at %s/%s", v.kvMount, v.path)
		}
		data = secret.Data
	} else {
		secret, err := v.client.Logical().ReadWithContext(ctx, v.kvMount+"/"+v.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials from Vault: %w", err)
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("credentials not found at %s/%s", v.kvMount, v.path)
		}
		data = secret.Data
	}

	// Convert the KV map to Credentials via JSON for consistent field names.
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secret data: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(jsonBytes, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return &creds, nil
}

// Ensure VaultStore implements Store.
var _ Store = (*VaultStore)(nil)
