package opportunity

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewRecord(t *testing.T) {
	opp := validOpportunity()
	now := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	aliases := map[string]string{"WETH": "ETH"}

	rec := NewRecord(opp, 7, aliases, now)

	if rec.ID == "" {
		t.Error("expected synthetic id to be set")
	}
	if rec.Type != RecordType {
		t.Errorf("Type = %q, want %q", rec.Type, RecordType)
	}
	if rec.SourceChain != "ethereum" || rec.TargetChain != "arbitrum" {
		t.Errorf("chains = %q -> %q, want ethereum -> arbitrum", rec.SourceChain, rec.TargetChain)
	}
	if rec.SourceVenue != "uniswap-v3" || rec.TargetVenue != "camelot" {
		t.Errorf("venues = %q -> %q, want uniswap-v3 -> camelot", rec.SourceVenue, rec.TargetVenue)
	}
	if rec.TokenIn != "ETH" || rec.TokenOut != "ETH" {
		t.Errorf("token pair = %q/%q, want normalized ETH/ETH", rec.TokenIn, rec.TokenOut)
	}
	if rec.NetProfit != 100.0 {
		t.Errorf("NetProfit = %g, want 100", rec.NetProfit)
	}
	if !rec.BridgeRequired {
		t.Error("BridgeRequired should be true when bridge cost is present")
	}
	if rec.BridgeCost != 20.0 {
		t.Errorf("BridgeCost = %g, want 20", rec.BridgeCost)
	}
	if rec.Epoch != 7 {
		t.Errorf("Epoch = %d, want 7", rec.Epoch)
	}
	if rec.Timestamp != now.Format(time.RFC3339Nano) {
		t.Errorf("Timestamp = %q, want %q", rec.Timestamp, now.Format(time.RFC3339Nano))
	}
}

func TestNewRecord_NoBridgeCost(t *testing.T) {
	opp := validOpportunity()
	opp.BridgeCost = 0

	rec := NewRecord(opp, 1, nil, time.Now())

	if rec.BridgeRequired {
		t.Error("BridgeRequired should be false without a bridge cost")
	}

	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	if strings.Contains(string(data), "bridge_cost") {
		t.Errorf("bridge_cost should be omitted when zero, got %s", data)
	}
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	opp := validOpportunity()
	now := time.Now()

	a := NewRecord(opp, 1, nil, now)
	b := NewRecord(opp, 1, nil, now)

	if a.ID == b.ID {
		t.Errorf("consecutive records share id %q", a.ID)
	}
}

func TestRecord_MarshalFieldNames(t *testing.T) {
	opp := validOpportunity()
	rec := NewRecord(opp, 3, nil, time.Now())

	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal round trip failed: %v", err)
	}

	for _, key := range []string{
		"id", "type", "source_chain", "target_chain", "source_venue",
		"target_venue", "token_in", "token_out", "net_profit",
		"bridge_required", "timestamp", "epoch",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("published record missing field %q", key)
		}
	}

	if fields["type"] != "cross-chain" {
		t.Errorf("type = %v, want cross-chain", fields["type"])
	}
}

func TestNormalizeToken(t *testing.T) {
	aliases := map[string]string{"WETH": "ETH", "WBTC": "BTC"}

	tests := []struct {
		symbol string
		want   string
	}{
		{"WETH", "ETH"},
		{"weth", "ETH"},
		{" WBTC ", "BTC"},
		{"SOL", "SOL"},
		{"usdc", "USDC"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := NormalizeToken(tt.symbol, aliases); got != tt.want {
				t.Errorf("NormalizeToken(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestNormalizeToken_NilAliases(t *testing.T) {
	if got := NormalizeToken("weth", nil); got != "WETH" {
		t.Errorf("NormalizeToken(weth, nil) = %q, want WETH", got)
	}
}
