// Package validation provides shared validation utilities.
package validation

import (
	"fmt"
)

const (
	maxChainLen = 32
	maxTokenLen = 16
	maxVenueLen = 48
)

// ValidateChain checks a chain identifier such as "ethereum" or
// "arbitrum-one": lowercase alphanumerics with interior dashes, bounded
// length. Identifiers come from untrusted ingest payloads and end up in
// dedupe keys and stream records, so the character set is kept strict.
func ValidateChain(chain string) error {
	if chain == "" {
		return fmt.Errorf("chain identifier cannot be empty")
	}
	if len(chain) > maxChainLen {
		return fmt.Errorf("chain identifier %q exceeds %d characters", chain, maxChainLen)
	}
	if !isLowerSlug(chain) {
		return fmt.Errorf("chain identifier %q must be lowercase alphanumeric with interior dashes", chain)
	}
	return nil
}

// ValidateToken checks a token symbol such as "WETH" or "1INCH": letters and
// digits only. Case is accepted here; normalization to canonical form happens
// at record construction.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token symbol cannot be empty")
	}
	if len(token) > maxTokenLen {
		return fmt.Errorf("token symbol %q exceeds %d characters", token, maxTokenLen)
	}
	for i := 0; i < len(token); i++ {
		if !isLetter(token[i]) && !isDigit(token[i]) {
			return fmt.Errorf("token symbol %q contains invalid character %q", token, token[i])
		}
	}
	return nil
}

// ValidateVenue checks a DEX identifier such as "uniswap-v3": the same slug
// rules as chains with a longer length bound.
func ValidateVenue(venue string) error {
	if venue == "" {
		return fmt.Errorf("venue identifier cannot be empty")
	}
	if len(venue) > maxVenueLen {
		return fmt.Errorf("venue identifier %q exceeds %d characters", venue, maxVenueLen)
	}
	if !isLowerSlug(venue) {
		return fmt.Errorf("venue identifier %q must be lowercase alphanumeric with interior dashes", venue)
	}
	return nil
}

// isLowerSlug reports whether s consists of lowercase alphanumerics with
// single interior dashes, starting and ending on an alphanumeric.
func isLowerSlug(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			if s[i-1] == '-' {
				return false
			}
			continue
		}
		if !isDigit(c) && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
