package opportunity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordType discriminates cross-chain records from other stream traffic.
const RecordType = "cross-chain"

// Record is the canonical event shape appended to the opportunity stream.
// Downstream executors consume this contract; field names are frozen.
type Record struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	SourceChain string `json:"source_chain"`
	TargetChain string `json:"target_chain"`
	SourceVenue string `json:"source_venue"`
	TargetVenue string `json:"target_venue"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`

	SourcePrice     float64 `json:"source_price"`
	TargetPrice     float64 `json:"target_price"`
	PriceDiff       float64 `json:"price_diff"`
	PercentageDiff  float64 `json:"percentage_diff"`
	EstimatedProfit float64 `json:"estimated_profit"`
	NetProfit       float64 `json:"net_profit"`
	Confidence      float64 `json:"confidence"`

	BridgeRequired bool    `json:"bridge_required"`
	BridgeCost     float64 `json:"bridge_cost,omitempty"`

	Timestamp string `json:"timestamp"`
	Epoch     int64  `json:"epoch"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// NewRecord translates a detected opportunity into the published shape,
// stamping a synthetic id, the emitting leader's epoch, and the normalized
// token pair. aliases maps venue symbols to canonical ones (WETH -> ETH);
// a nil map passes symbols through unchanged.
func NewRecord(o *Opportunity, epoch int64, aliases map[string]string, now time.Time) *Record {
	token := NormalizeToken(o.Token, aliases)
	return &Record{
		ID:              uuid.New().String(),
		Type:            RecordType,
		SourceChain:     o.SourceChain,
		TargetChain:     o.TargetChain,
		SourceVenue:     o.SourceDex,
		TargetVenue:     o.TargetDex,
		TokenIn:         token,
		TokenOut:        token,
		SourcePrice:     o.SourcePrice,
		TargetPrice:     o.TargetPrice,
		PriceDiff:       o.PriceDiff,
		PercentageDiff:  o.PercentageDiff,
		EstimatedProfit: o.EstimatedProfit,
		NetProfit:       o.NetProfit,
		Confidence:      o.Confidence,
		BridgeRequired:  o.BridgeCost > 0,
		BridgeCost:      o.BridgeCost,
		Timestamp:       now.UTC().Format(time.RFC3339Nano),
		Epoch:           epoch,
	}
}

// Marshal encodes the record for stream transport.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// NormalizeToken uppercases a symbol and resolves wrapped-asset aliases to
// their canonical form.
func NormalizeToken(symbol string, aliases map[string]string) string {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical, ok := aliases[normalized]; ok {
		return strings.ToUpper(canonical)
	}
	return normalized
}
