package secrets

import (
	"context"
	"os"
)

// EnvStore reads credentials from environment variables. Used in local
// development and in deployments where an init system has already injected
// the material into the process environment.
type EnvStore struct{}

// NewEnvStore creates an environment-backed credentials store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Fetch reads the credential variables. Absent variables yield empty
// fields, never an error; the environment is always "reachable".
func (s *EnvStore) Fetch(_ context.Context) (*Credentials, error) {
	return &Credentials{
		ValkeyPassword: os.Getenv("ARB_RELAY_VALKEY_PASSWORD"),
		AdminSecret:    os.Getenv("ARB_RELAY_ADMIN_SECRET"),
		IngestSecret:   os.Getenv("ARB_RELAY_INGEST_SECRET"),
	}, nil
}

// Ensure EnvStore implements Store.
var _ Store = (*EnvStore)(nil)
