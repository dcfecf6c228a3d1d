package secrets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/vault/api"
)

func mockVaultServer(handlers map[string]http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func vaultClientForTest(t *testing.T, addr string) *api.Client {
	t.Helper()

	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	client.SetToken("test-token")
	return client
}

func TestNewVaultStoreWithClient_defaults(t *testing.T) {
	store := NewVaultStoreWithClient(nil, "", "", 0)

	if store.kvMount != "secret" {
		t.Errorf("kvMount = %s, want secret", store.kvMount)
	}
	if store.path != "arb-relay" {
		t.Errorf("path = %s, want arb-relay", store.path)
	}
	if store.kvVersion != 2 {
		t.Errorf("kvVersion = %d, want 2", store.kvVersion)
	}
}

func TestVaultStore_Fetch_KVv2(t *testing.T) {
	server := mockVaultServer(map[string]http.HandlerFunc{
		"/v1/secret/data/arb-relay": func(w http.ResponseWriter, _ *http.Request) {
			response := map[string]interface{}{
				"data": map[string]interface{}{
					"data": map[string]interface{}{
						"valkey_password": "vk-pass",
						"admin_secret":    "admin-key",
						"ingest_secret":   "ingest-key",
					},
				},
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(response)
		},
	})
	defer server.Close()

	store := NewVaultStoreWithClient(vaultClientForTest(t, server.URL), "secret", "arb-relay", 2)

	creds, err := store.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if creds.ValkeyPassword != "vk-pass" {
		t.Errorf("valkey password = %q, want vk-pass", creds.ValkeyPassword)
	}
	if creds.AdminSecret != "admin-key" {
		t.Errorf("admin secret = %q, want admin-key", creds.AdminSecret)
	}
	if creds.IngestSecret != "ingest-key" {
		t.Errorf("ingest secret = %q, want ingest-key", creds.IngestSecret)
	}
}

func TestVaultStore_Fetch_KVv1(t *testing.T) {
	server := mockVaultServer(map[string]http.HandlerFunc{
		"/v1/secret/arb-relay": func(w http.ResponseWriter, _ *http.Request) {
			response := map[string]interface{}{
				"data": map[string]interface{}{
					"valkey_password": "vk-pass",
				},
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(response)
		},
	})
	defer server.Close()

	store := NewVaultStoreWithClient(vaultClientForTest(t, server.URL), "secret", "arb-relay", 1)

	creds, err := store.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if creds.ValkeyPassword != "vk-pass" {
		t.Errorf("valkey password = %q, want vk-pass", creds.ValkeyPassword)
	}
}

func TestVaultStore_Fetch_NotFound(t *testing.T) {
	server := mockVaultServer(nil)
	defer server.Close()

	store := NewVaultStoreWithClient(vaultClientForTest(t, server.URL), "secret", "arb-relay", 2)

	if _, err := store.Fetch(t.Context()); err == nil {
		t.Error("expected error for missing credential entry")
	}
}

func TestVaultStore_detectKVVersion(t *testing.T) {
	tests := []struct {
		name        string
		options     map[string]interface{}
		wantVersion int
	}{
		{name: "v2 explicit", options: map[string]interface{}{"version": "2"}, wantVersion: 2},
		{name: "v1 explicit", options: map[string]interface{}{"version": "1"}, wantVersion: 1},
		{name: "no options defaults to v2", options: nil, wantVersion: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockVaultServer(map[string]http.HandlerFunc{
				"/v1/sys/mounts": func(w http.ResponseWriter, _ *http.Request) {
					response := map[string]interface{}{
						"data": map[string]interface{}{
							"secret/": map[string]interface{}{
								"type":    "kv",
								"options": tt.options,
							},
						},
					}
					w.WriteHeader(http.StatusOK)
					_ = json.NewEncoder(w).Encode(response)
				},
			})
			defer server.Close()

			store := NewVaultStoreWithClient(vaultClientForTest(t, server.URL), "secret", "arb-relay", 2)

			version, err := store.detectKVVersion(t.Context())
			if err != nil {
				t.Fatalf("detectKVVersion failed: %v", err)
			}
			if version != tt.wantVersion {
				t.Errorf("version = %d, want %d", version, tt.wantVersion)
			}
		})
	}
}

func TestVaultStore_detectKVVersion_MountMissing(t *testing.T) {
	server := mockVaultServer(map[string]http.HandlerFunc{
		"/v1/sys/mounts": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
		},
	})
	defer server.Close()

	store := NewVaultStoreWithClient(vaultClientForTest(t, server.URL), "secret", "arb-relay", 2)

	if _, err := store.detectKVVersion(t.Context()); err == nil {
		t.Error("expected error when the KV mount is absent")
	}
}
