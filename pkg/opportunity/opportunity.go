// Package opportunity defines the cross-chain arbitrage opportunity model:
// the raw shape produced by detectors, the canonical record published to the
// opportunity stream, and the deduplication key that ties the two together.
package opportunity

import (
	"fmt"
	"time"
)

// Opportunity is a detected cross-chain arbitrage signal. Detectors construct
// it from venue quotes; the distributor decides whether it is published.
// All monetary fields are USD base units.
type Opportunity struct {
	Token       string `json:"token"`
	SourceChain string `json:"source_chain"`
	SourceDex   string `json:"source_dex"`
	TargetChain string `json:"target_chain"`
	TargetDex   string `json:"target_dex"`

	SourcePrice     float64 `json:"source_price"`
	TargetPrice     float64 `json:"target_price"`
	PriceDiff       float64 `json:"price_diff"`
	PercentageDiff  float64 `json:"percentage_diff"`
	EstimatedProfit float64 `json:"estimated_profit"`
	BridgeCost      float64 `json:"bridge_cost,omitempty"`
	NetProfit       float64 `json:"net_profit"`
	Confidence      float64 `json:"confidence"`

	// CreatedAt is assigned when the opportunity enters the dedupe cache,
	// not when the detector observed the prices. It drives both the dedupe
	// window and TTL eviction.
	CreatedAt time.Time `json:"-"`
}

// DedupeKey identifies the directed arbitrage route. The reverse direction
// is a distinct key.
func (o *Opportunity) DedupeKey() string {
	return o.SourceChain + ":" + o.TargetChain + ":" + o.Token
}

// Validate rejects opportunities with missing identity fields or nonsensical
// economics before they reach the distributor.
func (o *Opportunity) Validate() error {
	if o.Token == "" {
		return fmt.Errorf("token is required")
	}
	if o.SourceChain == "" {
		return fmt.Errorf("source_chain is required")
	}
	if o.TargetChain == "" {
		return fmt.Errorf("target_chain is required")
	}
	if o.SourceDex == "" {
		return fmt.Errorf("source_dex is required")
	}
	if o.TargetDex == "" {
		return fmt.Errorf("target_dex is required")
	}
	if o.SourcePrice <= 0 {
		return fmt.Errorf("source_price must be positive, got %g", o.SourcePrice)
	}
	if o.TargetPrice <= 0 {
		return fmt.Errorf("target_price must be positive, got %g", o.TargetPrice)
	}
	if o.BridgeCost < 0 {
		return fmt.Errorf("bridge_cost must be non-negative, got %g", o.BridgeCost)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %g", o.Confidence)
	}
	return nil
}
