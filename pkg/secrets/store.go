// Package secrets fetches sensitive relay configuration (store passwords,
// API auth keys) from an environment, SSM Parameter Store, or HashiCorp
// Vault backend before the rest of the process is wired up.
package secrets

import (
	"context"
)

// Credentials is the sensitive material the relay needs at startup. Empty
// fields fall back to whatever pkg/config loaded from plain environment
// variables.
type Credentials struct {
	// ValkeyPassword authenticates the shared Valkey used for the lease,
	// streams, and instance registry.
	ValkeyPassword string `json:"valkey_password,omitempty"`

	// AdminSecret signs and verifies admin API tokens.
	AdminSecret string `json:"admin_secret,omitempty"`

	// IngestSecret is the HMAC key for signed opportunity posts.
	IngestSecret string `json:"ingest_secret,omitempty"`
}

// Store fetches relay credentials from one backend.
type Store interface {
	// Fetch retrieves the credential set. Backends return an error for
	// unreachable stores, not for individually absent credentials.
	Fetch(ctx context.Context) (*Credentials, error)
}
