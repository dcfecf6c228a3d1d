package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crosslane/arb-relay/pkg/opportunity"
)

const testSecret = "ingest-secret"

type mockDistributor struct {
	published bool
	calls     int
	last      *opportunity.Opportunity
}

func (m *mockDistributor) Publish(_ context.Context, opp *opportunity.Opportunity) bool {
	m.calls++
	m.last = opp
	return m.published
}

func validOpportunity() *opportunity.Opportunity {
	return &opportunity.Opportunity{
		Token:           "USDC",
		SourceChain:     "ethereum",
		SourceDex:       "uniswap-v3",
		TargetChain:     "arbitrum",
		TargetDex:       "camelot",
		SourcePrice:     0.998,
		TargetPrice:     1.004,
		PriceDiff:       0.006,
		PercentageDiff:  0.6,
		EstimatedProfit: 120.0,
		BridgeCost:      15.0,
		NetProfit:       105.0,
		Confidence:      0.92,
	}
}

func postOpportunity(t *testing.T, h *IngestHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/opportunities", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleOpportunity_Published(t *testing.T) {
	dist := &mockDistributor{published: true}
	h := NewIngestHandler(dist, testSecret, nil)

	body, err := json.Marshal(validOpportunity())
	if err != nil {
		t.Fatalf("marshal opportunity: %v", err)
	}

	rec := postOpportunity(t, h, body, SignPayload(body, testSecret))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Published {
		t.Error("expected published=true")
	}
	if resp.Reason != "accepted" {
		t.Errorf("expected reason accepted, got %q", resp.Reason)
	}
	if dist.calls != 1 {
		t.Errorf("expected 1 distributor call, got %d", dist.calls)
	}
	if dist.last.DedupeKey() != "ethereum:arbitrum:USDC" {
		t.Errorf("unexpected dedupe key %q", dist.last.DedupeKey())
	}
}

func TestHandleOpportunity_Suppressed(t *testing.T) {
	dist := &mockDistributor{published: false}
	h := NewIngestHandler(dist, testSecret, nil)

	body, _ := json.Marshal(validOpportunity())
	rec := postOpportunity(t, h, body, SignPayload(body, testSecret))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Published {
		t.Error("expected published=false")
	}
	if resp.Reason != "suppressed" {
		t.Errorf("expected reason suppressed, got %q", resp.Reason)
	}
}

func TestHandleOpportunity_BadSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong prefix", "sha1=abc123"},
		{"wrong secret", ""},
		{"truncated signature", "sha256=deadbeef"},
	}

	body, _ := json.Marshal(validOpportunity())
	wrongSig := SignPayload(body, "other-secret")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signature
			if tt.name == "wrong secret" {
				sig = wrongSig
			}
			dist := &mockDistributor{published: true}
			h := NewIngestHandler(dist, testSecret, nil)

			rec := postOpportunity(t, h, body, sig)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if dist.calls != 0 {
				t.Errorf("distributor called %d times on rejected request", dist.calls)
			}
		})
	}
}

func TestHandleOpportunity_NoSecretConfigured(t *testing.T) {
	dist := &mockDistributor{published: true}
	h := NewIngestHandler(dist, "", nil)

	body, _ := json.Marshal(validOpportunity())
	rec := postOpportunity(t, h, body, SignPayload(body, ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 when no secret configured, got %d", rec.Code)
	}
}

func TestHandleOpportunity_MalformedBody(t *testing.T) {
	dist := &mockDistributor{published: true}
	h := NewIngestHandler(dist, testSecret, nil)

	body := []byte("{not json")
	rec := postOpportunity(t, h, body, SignPayload(body, testSecret))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if dist.calls != 0 {
		t.Error("distributor called for malformed body")
	}
}

func TestHandleOpportunity_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*opportunity.Opportunity)
	}{
		{"missing token", func(o *opportunity.Opportunity) { o.Token = "" }},
		{"uppercase chain", func(o *opportunity.Opportunity) { o.SourceChain = "Ethereum" }},
		{"token with symbol", func(o *opportunity.Opportunity) { o.Token = "USD$" }},
		{"zero source price", func(o *opportunity.Opportunity) { o.SourcePrice = 0 }},
		{"negative bridge cost", func(o *opportunity.Opportunity) { o.BridgeCost = -1 }},
		{"confidence above one", func(o *opportunity.Opportunity) { o.Confidence = 1.5 }},
		{"venue with slash", func(o *opportunity.Opportunity) { o.TargetDex = "uniswap/v3" }},
		{"overlong chain", func(o *opportunity.Opportunity) { o.TargetChain = strings.Repeat("a", 40) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := validOpportunity()
			tt.mutate(opp)
			body, err := json.Marshal(opp)
			if err != nil {
				t.Fatalf("marshal opportunity: %v", err)
			}

			dist := &mockDistributor{published: true}
			h := NewIngestHandler(dist, testSecret, nil)
			rec := postOpportunity(t, h, body, SignPayload(body, testSecret))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if dist.calls != 0 {
				t.Error("distributor called for invalid opportunity")
			}
		})
	}
}

func TestHandleOpportunity_MethodNotAllowed(t *testing.T) {
	dist := &mockDistributor{published: true}
	h := NewIngestHandler(dist, testSecret, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestValidateSignature(t *testing.T) {
	payload := []byte(`{"token":"WETH"}`)

	if err := ValidateSignature(payload, SignPayload(payload, "s3cret"), "s3cret"); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
	if err := ValidateSignature(payload, SignPayload(payload, "other"), "s3cret"); err == nil {
		t.Error("expected mismatch error for wrong secret")
	}
	if err := ValidateSignature([]byte("tampered"), SignPayload(payload, "s3cret"), "s3cret"); err == nil {
		t.Error("expected mismatch error for tampered payload")
	}
	if err := ValidateSignature(payload, SignPayload(payload, "s3cret"), ""); err == nil {
		t.Error("expected error when secret not configured")
	}
}
