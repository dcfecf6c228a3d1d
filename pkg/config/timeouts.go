package config

import "time"

// Common timeout durations used throughout the application.
const (
	// ShortTimeout for quick operations (acks, status writes)
	ShortTimeout = 3 * time.Second

	// FetchTimeout for stream long polling
	FetchTimeout = 25 * time.Second

	// ReleaseTimeout bounds the best-effort lease release during shutdown
	ReleaseTimeout = 5 * time.Second

	// AlertTimeout bounds alert sink delivery so a slow sink cannot stall
	// an election transition
	AlertTimeout = 5 * time.Second
)

// HTTP body size limits
const (
	// MaxBodySize is the maximum size for HTTP request bodies (1MB)
	MaxBodySize = 1 << 20 // 1 MB
)
