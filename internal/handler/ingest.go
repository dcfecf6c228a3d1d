// Package handler provides HTTP request handlers for the arb-relay server.
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/crosslane/arb-relay/internal/validation"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/metrics"
	"github.com/crosslane/arb-relay/pkg/opportunity"
)

var ingestLog = logging.WithComponent(logging.LogTypeIngest, "http")

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body,
	// prefixed with "sha256=".
	SignatureHeader = "X-Arb-Signature-256"

	maxBodyBytes = 1 << 20
)

// Distributor is the subset of the opportunity distributor the ingest
// endpoint needs.
type Distributor interface {
	Publish(ctx context.Context, opp *opportunity.Opportunity) bool
}

// IngestHandler accepts signed opportunity submissions from detection
// engines over HTTP and forwards them to the distributor.
type IngestHandler struct {
	distributor Distributor
	secret      string
	metrics     metrics.Publisher
}

// NewIngestHandler creates an ingest handler. The secret signs request
// bodies; requests without a valid signature are rejected.
func NewIngestHandler(distributor Distributor, secret string, m metrics.Publisher) *IngestHandler {
	if m == nil {
		m = metrics.NoopPublisher{}
	}
	return &IngestHandler{
		distributor: distributor,
		secret:      secret,
		metrics:     m,
	}
}

// RegisterRoutes registers the ingest endpoint on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/opportunities", h.HandleOpportunity)
}

// submitResponse is the body returned for accepted submissions.
type submitResponse struct {
	Published bool   `json:"published"`
	Reason    string `json:"reason"`
}

// HandleOpportunity verifies the request signature, validates the payload,
// and hands the opportunity to the distributor. Suppression by the dedupe
// cache or by follower gating still returns 202; the response body reports
// whether the record was appended.
func (h *IngestHandler) HandleOpportunity(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeIngestError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(payload)) == maxBodyBytes {
		if _, err := r.Body.Read(make([]byte, 1)); err != io.EOF {
			writeIngestError(w, http.StatusRequestEntityTooLarge, "request body exceeds 1MB limit")
			return
		}
	}

	if err := ValidateSignature(payload, r.Header.Get(SignatureHeader), h.secret); err != nil {
		ingestLog.Warn("rejected unsigned submission",
			slog.String(logging.KeyRemoteAddr, r.RemoteAddr),
			slog.String(logging.KeyError, err.Error()))
		writeIngestError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var opp opportunity.Opportunity
	if err := json.Unmarshal(payload, &opp); err != nil {
		writeIngestError(w, http.StatusBadRequest, "malformed opportunity payload")
		return
	}
	if err := ValidateOpportunity(&opp); err != nil {
		ingestLog.Warn("rejected invalid opportunity",
			slog.String(logging.KeyRemoteAddr, r.RemoteAddr),
			slog.String(logging.KeyError, err.Error()))
		writeIngestError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.metrics.PublishIngestReceived(ctx, 1); err != nil {
		ingestLog.Warn("failed to publish ingest metric", slog.String(logging.KeyError, err.Error()))
	}

	published := h.distributor.Publish(ctx, &opp)
	resp := submitResponse{Published: published, Reason: "accepted"}
	if !published {
		resp.Reason = "suppressed"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ingestLog.Error("failed to encode response", slog.String(logging.KeyError, err.Error()))
	}
}

// ValidateSignature checks the hex HMAC-SHA256 signature of payload against
// the shared ingest secret. The comparison is constant-time.
func ValidateSignature(payload []byte, signatureHeader, secret string) error {
	if secret == "" {
		return errors.New("ingest secret not configured")
	}
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return errors.New("invalid or missing signature header")
	}

	signature := strings.TrimPrefix(signatureHeader, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// SignPayload returns the signature header value for a payload. Detection
// engines use the same construction on their side.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ValidateOpportunity applies economic sanity checks plus the identifier
// rules shared with the stream consumer. Identifiers from untrusted
// detectors end up in dedupe keys and stream records, so the character
// rules are enforced at the edge.
func ValidateOpportunity(opp *opportunity.Opportunity) error {
	if err := opp.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateChain(opp.SourceChain); err != nil {
		return fmt.Errorf("source_chain: %w", err)
	}
	if err := validation.ValidateChain(opp.TargetChain); err != nil {
		return fmt.Errorf("target_chain: %w", err)
	}
	if err := validation.ValidateToken(opp.Token); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if err := validation.ValidateVenue(opp.SourceDex); err != nil {
		return fmt.Errorf("source_dex: %w", err)
	}
	if err := validation.ValidateVenue(opp.TargetDex); err != nil {
		return fmt.Errorf("target_dex: %w", err)
	}
	return nil
}

func writeIngestError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
