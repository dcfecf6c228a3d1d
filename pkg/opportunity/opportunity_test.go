package opportunity

import (
	"testing"
	"time"
)

func validOpportunity() *Opportunity {
	return &Opportunity{
		Token:           "WETH",
		SourceChain:     "ethereum",
		SourceDex:       "uniswap-v3",
		TargetChain:     "arbitrum",
		TargetDex:       "camelot",
		SourcePrice:     3000.0,
		TargetPrice:     3045.0,
		PriceDiff:       45.0,
		PercentageDiff:  1.5,
		EstimatedProfit: 120.0,
		BridgeCost:      20.0,
		NetProfit:       100.0,
		Confidence:      0.9,
	}
}

func TestDedupeKey(t *testing.T) {
	opp := validOpportunity()
	if got := opp.DedupeKey(); got != "ethereum:arbitrum:WETH" {
		t.Errorf("DedupeKey() = %q, want ethereum:arbitrum:WETH", got)
	}
}

func TestDedupeKey_DirectionSensitive(t *testing.T) {
	forward := validOpportunity()
	reverse := validOpportunity()
	reverse.SourceChain, reverse.TargetChain = forward.TargetChain, forward.SourceChain

	if forward.DedupeKey() == reverse.DedupeKey() {
		t.Errorf("reverse route must produce a distinct key, both = %q", forward.DedupeKey())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Opportunity)
		wantErr bool
	}{
		{"valid", func(o *Opportunity) {}, false},
		{"no bridge cost", func(o *Opportunity) { o.BridgeCost = 0 }, false},
		{"missing token", func(o *Opportunity) { o.Token = "" }, true},
		{"missing source chain", func(o *Opportunity) { o.SourceChain = "" }, true},
		{"missing target chain", func(o *Opportunity) { o.TargetChain = "" }, true},
		{"missing source dex", func(o *Opportunity) { o.SourceDex = "" }, true},
		{"missing target dex", func(o *Opportunity) { o.TargetDex = "" }, true},
		{"zero source price", func(o *Opportunity) { o.SourcePrice = 0 }, true},
		{"negative target price", func(o *Opportunity) { o.TargetPrice = -1 }, true},
		{"negative bridge cost", func(o *Opportunity) { o.BridgeCost = -5 }, true},
		{"confidence above one", func(o *Opportunity) { o.Confidence = 1.1 }, true},
		{"negative confidence", func(o *Opportunity) { o.Confidence = -0.1 }, true},
		{"confidence exactly one", func(o *Opportunity) { o.Confidence = 1.0 }, false},
		{"confidence zero", func(o *Opportunity) { o.Confidence = 0 }, false},
		{"negative net profit", func(o *Opportunity) { o.NetProfit = -10 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := validOpportunity()
			tt.mutate(opp)
			err := opp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CreatedAtNotRequired(t *testing.T) {
	opp := validOpportunity()
	opp.CreatedAt = time.Time{}
	if err := opp.Validate(); err != nil {
		t.Errorf("Validate() should not require CreatedAt, got %v", err)
	}
}
