package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML override file schema. Zero values leave the
// corresponding environment-derived setting untouched.
type FileConfig struct {
	Version string `yaml:"version"`

	Lease struct {
		Name            string `yaml:"name,omitempty"`
		TTL             string `yaml:"ttl,omitempty"`
		RenewalInterval string `yaml:"renewal_interval,omitempty"`
	} `yaml:"lease,omitempty"`

	Distribution struct {
		DedupeWindow   string  `yaml:"dedupe_window,omitempty"`
		MinImprovement float64 `yaml:"min_improvement,omitempty"`
		MaxCacheSize   int     `yaml:"max_cache_size,omitempty"`
		CacheTTL       string  `yaml:"cache_ttl,omitempty"`
	} `yaml:"distribution,omitempty"`

	Stream struct {
		Name    string `yaml:"name,omitempty"`
		MaxLen  int64  `yaml:"max_len,omitempty"`
		RawName string `yaml:"raw_name,omitempty"`
	} `yaml:"stream,omitempty"`

	// TokenAliases maps venue-specific wrapped symbols to their canonical
	// form for the published record's normalized token pair, e.g. WETH: ETH.
	TokenAliases map[string]string `yaml:"token_aliases,omitempty"`
}

// ParseFile parses an override file from YAML bytes.
func ParseFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the override file for errors.
func (fc *FileConfig) Validate() error {
	if fc.Version == "" {
		return fmt.Errorf("version is required")
	}
	if fc.Version != "1" && fc.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s (supported: 1, 1.0)", fc.Version)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"lease.ttl", fc.Lease.TTL},
		{"lease.renewal_interval", fc.Lease.RenewalInterval},
		{"distribution.dedupe_window", fc.Distribution.DedupeWindow},
		{"distribution.cache_ttl", fc.Distribution.CacheTTL},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}
	if fc.Distribution.MinImprovement < 0 {
		return fmt.Errorf("distribution.min_improvement must be non-negative")
	}
	if fc.Distribution.MaxCacheSize < 0 {
		return fmt.Errorf("distribution.max_cache_size must be non-negative")
	}
	for alias, canonical := range fc.TokenAliases {
		if alias == "" || canonical == "" {
			return fmt.Errorf("token_aliases entries must have non-empty alias and canonical symbol")
		}
	}
	return nil
}

// applyFile reads the file and overlays non-zero settings onto the config.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	fc, err := ParseFile(data)
	if err != nil {
		return err
	}

	if fc.Lease.Name != "" {
		c.LeaseName = fc.Lease.Name
	}
	if fc.Lease.TTL != "" {
		c.LeaseTTL, _ = time.ParseDuration(fc.Lease.TTL)
	}
	if fc.Lease.RenewalInterval != "" {
		c.RenewalInterval, _ = time.ParseDuration(fc.Lease.RenewalInterval)
	}
	if fc.Distribution.DedupeWindow != "" {
		c.DedupeWindow, _ = time.ParseDuration(fc.Distribution.DedupeWindow)
	}
	if fc.Distribution.MinImprovement != 0 {
		c.MinImprovement = fc.Distribution.MinImprovement
	}
	if fc.Distribution.MaxCacheSize != 0 {
		c.MaxCacheSize = fc.Distribution.MaxCacheSize
	}
	if fc.Distribution.CacheTTL != "" {
		c.CacheTTL, _ = time.ParseDuration(fc.Distribution.CacheTTL)
	}
	if fc.Stream.Name != "" {
		c.StreamName = fc.Stream.Name
	}
	if fc.Stream.MaxLen != 0 {
		c.StreamMaxLen = fc.Stream.MaxLen
	}
	if fc.Stream.RawName != "" {
		c.RawStreamName = fc.Stream.RawName
	}
	if len(fc.TokenAliases) > 0 {
		c.TokenAliases = fc.TokenAliases
	}

	return nil
}
