package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/crosslane/arb-relay/pkg/alert"
	"github.com/crosslane/arb-relay/pkg/config"
	"github.com/crosslane/arb-relay/pkg/metrics"
)

func TestInitMetrics_NoBackends(t *testing.T) {
	cfg := &config.Config{}
	pub, handler := initMetrics(aws.Config{}, cfg)

	if _, ok := pub.(metrics.NoopPublisher); !ok {
		t.Errorf("expected NoopPublisher with no backends, got %T", pub)
	}
	if handler != nil {
		t.Error("expected nil prometheus handler with no backends")
	}
}

func TestInitMetrics_Prometheus(t *testing.T) {
	cfg := &config.Config{MetricsBackends: []string{"prometheus"}}
	pub, handler := initMetrics(aws.Config{}, cfg)

	if pub == nil {
		t.Fatal("expected publisher")
	}
	if handler == nil {
		t.Error("expected prometheus handler")
	}
}

func TestInitMetrics_UnknownBackendIgnored(t *testing.T) {
	cfg := &config.Config{MetricsBackends: []string{"statsite"}}
	pub, _ := initMetrics(aws.Config{}, cfg)

	if _, ok := pub.(metrics.NoopPublisher); !ok {
		t.Errorf("expected NoopPublisher when only unknown backends configured, got %T", pub)
	}
}

func TestInitMetrics_MultipleBackends(t *testing.T) {
	cfg := &config.Config{MetricsBackends: []string{"cloudwatch", "prometheus"}}
	pub, handler := initMetrics(aws.Config{}, cfg)

	if _, ok := pub.(*metrics.MultiPublisher); !ok {
		t.Errorf("expected MultiPublisher for two backends, got %T", pub)
	}
	if handler == nil {
		t.Error("expected prometheus handler")
	}
}

func TestInitAlerts_LogOnly(t *testing.T) {
	sink, stop := initAlerts(context.Background(), aws.Config{}, &config.Config{})

	if _, ok := sink.(*alert.LogSink); !ok {
		t.Errorf("expected LogSink with no alert backends, got %T", sink)
	}
	if stop == nil {
		t.Fatal("expected a stop func")
	}
	stop()
}

func TestInitAlerts_AuditSinkStartFailureFallsBackToLog(t *testing.T) {
	// The zero aws.Config has no region, so the audit sink's stream
	// creation fails before any network call and the sink is dropped.
	cfg := &config.Config{AlertLogGroup: "/arb-relay/alerts", InstanceID: "i-test"}
	sink, stop := initAlerts(context.Background(), aws.Config{}, cfg)

	if _, ok := sink.(*alert.LogSink); !ok {
		t.Errorf("expected fallback to LogSink when the audit sink cannot start, got %T", sink)
	}
	stop()
}

func TestMakeReadinessHandler(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		lockPing   func(context.Context) error
		streamPing func(context.Context) error
		wantStatus int
	}{
		{"all healthy", healthy, healthy, http.StatusOK},
		{"lock store down", down, healthy, http.StatusServiceUnavailable},
		{"stream down", healthy, down, http.StatusServiceUnavailable},
		{"both down", down, down, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := makeReadinessHandler(tt.lockPing, tt.streamPing)
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			h(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

type pingable struct{ err error }

func (p pingable) Ping(context.Context) error { return p.err }

func TestPingOf(t *testing.T) {
	wantErr := errors.New("backend down")
	if err := pingOf(pingable{err: wantErr})(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected backend error passed through, got %v", err)
	}

	// Backends without a probe read as healthy.
	if err := pingOf(struct{}{})(context.Background()); err != nil {
		t.Errorf("expected nil for non-pinger, got %v", err)
	}
}

func TestLoadCredentials_EnvOverlay(t *testing.T) {
	t.Setenv("ARB_RELAY_SECRETS_BACKEND", "env")
	t.Setenv("ARB_RELAY_VALKEY_PASSWORD", "from-secrets")

	cfg := &config.Config{AdminSecret: "from-env"}
	if err := loadCredentials(context.Background(), cfg, aws.Config{}); err != nil {
		t.Fatalf("loadCredentials: %v", err)
	}

	if cfg.ValkeyPassword != "from-secrets" {
		t.Errorf("expected valkey password overlaid, got %q", cfg.ValkeyPassword)
	}
	// Empty credential fields keep the environment value.
	if cfg.AdminSecret != "from-env" {
		t.Errorf("expected admin secret preserved, got %q", cfg.AdminSecret)
	}
}
