package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFile_Valid(t *testing.T) {
	yaml := `
version: "1"
lease:
  name: arb-relay:leader:kr
  ttl: 20s
  renewal_interval: 6s
distribution:
  dedupe_window: 8s
  min_improvement: 0.15
  max_cache_size: 500
  cache_ttl: 5m
stream:
  name: arb:opportunities:kr
  max_len: 50000
token_aliases:
  WETH: ETH
  WBTC: BTC
`
	fc, err := ParseFile([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fc.Version != "1" {
		t.Errorf("expected version '1', got '%s'", fc.Version)
	}
	if fc.Lease.Name != "arb-relay:leader:kr" {
		t.Errorf("expected lease name 'arb-relay:leader:kr', got '%s'", fc.Lease.Name)
	}
	if fc.Lease.TTL != "20s" {
		t.Errorf("expected lease ttl '20s', got '%s'", fc.Lease.TTL)
	}
	if fc.Distribution.MinImprovement != 0.15 {
		t.Errorf("expected min_improvement 0.15, got %g", fc.Distribution.MinImprovement)
	}
	if fc.Distribution.MaxCacheSize != 500 {
		t.Errorf("expected max_cache_size 500, got %d", fc.Distribution.MaxCacheSize)
	}
	if fc.Stream.MaxLen != 50000 {
		t.Errorf("expected stream max_len 50000, got %d", fc.Stream.MaxLen)
	}
	if len(fc.TokenAliases) != 2 {
		t.Fatalf("expected 2 token aliases, got %d", len(fc.TokenAliases))
	}
	if fc.TokenAliases["WETH"] != "ETH" {
		t.Errorf("expected alias WETH -> ETH, got '%s'", fc.TokenAliases["WETH"])
	}
}

func TestParseFile_InvalidYAML(t *testing.T) {
	yaml := `
version: "1"
lease:
  ttl: [invalid yaml
`
	_, err := ParseFile([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFileConfig_Validate_MissingVersion(t *testing.T) {
	fc := &FileConfig{}
	err := fc.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing version")
	}
	if err.Error() != "version is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestFileConfig_Validate_UnsupportedVersion(t *testing.T) {
	fc := &FileConfig{Version: "2.0"}
	err := fc.Validate()
	if err == nil {
		t.Fatal("expected validation error for unsupported version")
	}
}

func TestFileConfig_Validate_Version10(t *testing.T) {
	fc := &FileConfig{Version: "1.0"}
	if err := fc.Validate(); err != nil {
		t.Errorf("unexpected validation error for version 1.0: %v", err)
	}
}

func TestFileConfig_Validate_BadDuration(t *testing.T) {
	fc := &FileConfig{Version: "1"}
	fc.Lease.TTL = "thirty seconds"
	err := fc.Validate()
	if err == nil {
		t.Fatal("expected validation error for invalid duration")
	}
}

func TestFileConfig_Validate_NegativeImprovement(t *testing.T) {
	fc := &FileConfig{Version: "1"}
	fc.Distribution.MinImprovement = -0.5
	err := fc.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative min_improvement")
	}
}

func TestFileConfig_Validate_EmptyAlias(t *testing.T) {
	fc := &FileConfig{
		Version:      "1",
		TokenAliases: map[string]string{"WETH": ""},
	}
	err := fc.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty canonical symbol")
	}
}

func TestApplyFile_Overlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	yaml := `
version: "1"
lease:
  ttl: 20s
distribution:
  min_improvement: 0.2
token_aliases:
  WETH: ETH
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write override file: %v", err)
	}

	cfg := &Config{
		LeaseName:      "arb-relay:leader",
		LeaseTTL:       30 * time.Second,
		MinImprovement: 0.1,
		MaxCacheSize:   1000,
		StreamName:     "arb:opportunities",
	}
	if err := cfg.applyFile(path); err != nil {
		t.Fatalf("applyFile() unexpected error: %v", err)
	}

	if cfg.LeaseTTL != 20*time.Second {
		t.Errorf("LeaseTTL = %v, want overridden 20s", cfg.LeaseTTL)
	}
	if cfg.MinImprovement != 0.2 {
		t.Errorf("MinImprovement = %g, want overridden 0.2", cfg.MinImprovement)
	}
	// Fields absent from the file keep their environment-derived values.
	if cfg.LeaseName != "arb-relay:leader" {
		t.Errorf("LeaseName = %q, want unchanged", cfg.LeaseName)
	}
	if cfg.MaxCacheSize != 1000 {
		t.Errorf("MaxCacheSize = %d, want unchanged", cfg.MaxCacheSize)
	}
	if cfg.StreamName != "arb:opportunities" {
		t.Errorf("StreamName = %q, want unchanged", cfg.StreamName)
	}
	if cfg.TokenAliases["WETH"] != "ETH" {
		t.Errorf("TokenAliases[WETH] = %q, want ETH", cfg.TokenAliases["WETH"])
	}
}

func TestApplyFile_MissingFile(t *testing.T) {
	cfg := &Config{}
	err := cfg.applyFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
