package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	originalEnv := os.Environ()
	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range originalEnv {
			pair := splitEnv(e)
			_ = os.Setenv(pair[0], pair[1])
		}
	})

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "Valid Config",
			env: map[string]string{
				"ARB_RELAY_REGION": "us-east-1",
			},
			wantErr: false,
		},
		{
			name:    "Missing Region",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "Unknown Lock Backend",
			env: map[string]string{
				"ARB_RELAY_REGION":       "us-east-1",
				"ARB_RELAY_LOCK_BACKEND": "zookeeper",
			},
			wantErr: true,
		},
		{
			name: "Unknown Stream Backend",
			env: map[string]string{
				"ARB_RELAY_REGION":         "us-east-1",
				"ARB_RELAY_STREAM_BACKEND": "kafka",
			},
			wantErr: true,
		},
		{
			name: "Renewal Interval Exceeds TTL",
			env: map[string]string{
				"ARB_RELAY_REGION":           "us-east-1",
				"ARB_RELAY_LEASE_TTL":        "10s",
				"ARB_RELAY_RENEWAL_INTERVAL": "15s",
			},
			wantErr: true,
		},
		{
			name: "Store Timeout Exceeds TTL",
			env: map[string]string{
				"ARB_RELAY_REGION":        "us-east-1",
				"ARB_RELAY_LEASE_TTL":     "10s",
				"ARB_RELAY_STORE_TIMEOUT": "12s",
			},
			wantErr: true,
		},
		{
			name: "SQS Backend Without Queue URL",
			env: map[string]string{
				"ARB_RELAY_REGION":         "us-east-1",
				"ARB_RELAY_STREAM_BACKEND": "sqs",
			},
			wantErr: true,
		},
		{
			name: "SQS Backend With Queue URL",
			env: map[string]string{
				"ARB_RELAY_REGION":         "us-east-1",
				"ARB_RELAY_STREAM_BACKEND": "sqs",
				"ARB_RELAY_SQS_QUEUE_URL":  "https://sqs.us-east-1.amazonaws.com/123/arb-relay",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				_ = os.Setenv(k, v)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cfg.Region != "us-east-1" {
					t.Errorf("Region = %q, want us-east-1", cfg.Region)
				}
				if cfg.InstanceID == "" {
					t.Error("InstanceID should default to the hostname")
				}
			}
		})
	}
}

func TestLoadDerivedDefaults(t *testing.T) {
	originalEnv := os.Environ()
	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range originalEnv {
			pair := splitEnv(e)
			_ = os.Setenv(pair[0], pair[1])
		}
	})

	os.Clearenv()
	_ = os.Setenv("ARB_RELAY_REGION", "ap-northeast-1")
	_ = os.Setenv("ARB_RELAY_LEASE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.LeaseTTL != 30*time.Second {
		t.Errorf("LeaseTTL = %v, want 30s", cfg.LeaseTTL)
	}
	if cfg.RenewalInterval != 10*time.Second {
		t.Errorf("RenewalInterval = %v, want a third of the lease TTL", cfg.RenewalInterval)
	}
	if cfg.ResignHoldoff != 60*time.Second {
		t.Errorf("ResignHoldoff = %v, want twice the lease TTL", cfg.ResignHoldoff)
	}
	if cfg.DedupeWindow != 5*time.Second {
		t.Errorf("DedupeWindow = %v, want 5s", cfg.DedupeWindow)
	}
	if cfg.MinImprovement != 0.1 {
		t.Errorf("MinImprovement = %v, want 0.1", cfg.MinImprovement)
	}
	if cfg.MaxCacheSize != 1000 {
		t.Errorf("MaxCacheSize = %v, want 1000", cfg.MaxCacheSize)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", cfg.CacheTTL)
	}
	if cfg.StreamName != "arb:opportunities" {
		t.Errorf("StreamName = %q, want arb:opportunities", cfg.StreamName)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Region:          "us-east-1",
			LockBackend:     LockBackendValkey,
			StreamBackend:   StreamBackendValkey,
			LeaseTTL:        30 * time.Second,
			RenewalInterval: 10 * time.Second,
			StoreTimeout:    5 * time.Second,
			DedupeWindow:    5 * time.Second,
			MinImprovement:  0.1,
			MaxCacheSize:    1000,
			CacheTTL:        10 * time.Minute,
			CleanupInterval: time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing region", func(c *Config) { c.Region = "" }, true},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "etcd" }, true},
		{"lock backend none", func(c *Config) { c.LockBackend = LockBackendNone }, false},
		{"zero lease TTL", func(c *Config) { c.LeaseTTL = 0 }, true},
		{"zero renewal interval", func(c *Config) { c.RenewalInterval = 0 }, true},
		{"renewal interval equals TTL", func(c *Config) { c.RenewalInterval = c.LeaseTTL }, true},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }, true},
		{"store timeout equals TTL", func(c *Config) { c.StoreTimeout = c.LeaseTTL }, true},
		{"zero dedupe window", func(c *Config) { c.DedupeWindow = 0 }, true},
		{"negative improvement", func(c *Config) { c.MinImprovement = -0.1 }, true},
		{"zero improvement", func(c *Config) { c.MinImprovement = 0 }, false},
		{"zero cache size", func(c *Config) { c.MaxCacheSize = 0 }, true},
		{"zero cache TTL", func(c *Config) { c.CacheTTL = 0 }, true},
		{"zero cleanup interval", func(c *Config) { c.CleanupInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	_ = os.Setenv("TEST_INT", "123")
	_ = os.Setenv("TEST_BAD_INT", "abc")
	t.Cleanup(func() {
		_ = os.Unsetenv("TEST_INT")
		_ = os.Unsetenv("TEST_BAD_INT")
	})

	if val := getEnvInt("TEST_INT", 0); val != 123 {
		t.Errorf("getEnvInt(TEST_INT) = %d, want 123", val)
	}
	if val := getEnvInt("TEST_BAD_INT", 456); val != 456 {
		t.Errorf("getEnvInt(TEST_BAD_INT) = %d, want default 456 for invalid integer", val)
	}
	if val := getEnvInt("TEST_MISSING", 789); val != 789 {
		t.Errorf("getEnvInt(TEST_MISSING) = %d, want 789", val)
	}
}

func TestGetEnvFloat(t *testing.T) {
	_ = os.Setenv("TEST_FLOAT", "0.25")
	_ = os.Setenv("TEST_BAD_FLOAT", "lots")
	t.Cleanup(func() {
		_ = os.Unsetenv("TEST_FLOAT")
		_ = os.Unsetenv("TEST_BAD_FLOAT")
	})

	if val := getEnvFloat("TEST_FLOAT", 0); val != 0.25 {
		t.Errorf("getEnvFloat(TEST_FLOAT) = %g, want 0.25", val)
	}
	if val := getEnvFloat("TEST_BAD_FLOAT", 0.5); val != 0.5 {
		t.Errorf("getEnvFloat(TEST_BAD_FLOAT) = %g, want default 0.5", val)
	}
	if val := getEnvFloat("TEST_MISSING_FLOAT", 1.5); val != 1.5 {
		t.Errorf("getEnvFloat(TEST_MISSING_FLOAT) = %g, want 1.5", val)
	}
}

func TestGetEnvDuration(t *testing.T) {
	_ = os.Setenv("TEST_DURATION", "45s")
	_ = os.Setenv("TEST_BAD_DURATION", "soon")
	t.Cleanup(func() {
		_ = os.Unsetenv("TEST_DURATION")
		_ = os.Unsetenv("TEST_BAD_DURATION")
	})

	if val := getEnvDuration("TEST_DURATION", time.Second); val != 45*time.Second {
		t.Errorf("getEnvDuration(TEST_DURATION) = %v, want 45s", val)
	}
	if val := getEnvDuration("TEST_BAD_DURATION", time.Minute); val != time.Minute {
		t.Errorf("getEnvDuration(TEST_BAD_DURATION) = %v, want default 1m", val)
	}
	if val := getEnvDuration("TEST_MISSING_DURATION", time.Hour); val != time.Hour {
		t.Errorf("getEnvDuration(TEST_MISSING_DURATION) = %v, want 1h", val)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"datadog", []string{"datadog"}},
		{"datadog,prometheus", []string{"datadog", "prometheus"}},
		{" datadog , cloudwatch ", []string{"datadog", "cloudwatch"}},
		{"a,,b", []string{"a", "b"}},
		{" , , ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := splitList(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("splitList(%q) length = %v, want %v", tt.input, len(got), len(tt.want))
				return
			}
			for i, w := range tt.want {
				if got[i] != w {
					t.Errorf("splitList(%q)[%d] = %q, want %q", tt.input, i, got[i], w)
				}
			}
		})
	}
}

// Helper to split env string "KEY=VALUE"
func splitEnv(s string) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s, ""}
}
