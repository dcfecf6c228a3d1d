package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// mockSNSClient implements SNSAPI for testing.
type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	inputs      []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{}, nil
}

func testEvent(eventType string) Event {
	return Event{
		Type:       eventType,
		Epoch:      3,
		Reason:     "lease lost to another holder",
		InstanceID: "i-0abc",
		Region:     "us-east-1",
		At:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSNSSink_Publish(t *testing.T) {
	mock := &mockSNSClient{}
	sink := NewSNSSinkWithClient(mock, "arn:aws:sns:us-east-1:123:arb-relay-alerts")

	if err := sink.Publish(context.Background(), testEvent(TypeLeaderLost)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(mock.inputs) != 1 {
		t.Fatalf("expected 1 SNS publish, got %d", len(mock.inputs))
	}

	input := mock.inputs[0]
	if *input.TopicArn != "arn:aws:sns:us-east-1:123:arb-relay-alerts" {
		t.Errorf("TopicArn = %q, want configured topic", *input.TopicArn)
	}
	if !strings.Contains(*input.Subject, TypeLeaderLost) {
		t.Errorf("Subject = %q, want the event type in it", *input.Subject)
	}
	if !strings.Contains(*input.Subject, "us-east-1") {
		t.Errorf("Subject = %q, want the region in it", *input.Subject)
	}

	var decoded Event
	if err := json.Unmarshal([]byte(*input.Message), &decoded); err != nil {
		t.Fatalf("message body is not valid JSON: %v", err)
	}
	if decoded.Type != TypeLeaderLost {
		t.Errorf("decoded type = %q, want %q", decoded.Type, TypeLeaderLost)
	}
	if decoded.Epoch != 3 {
		t.Errorf("decoded epoch = %d, want 3", decoded.Epoch)
	}
}

func TestSNSSink_PublishError(t *testing.T) {
	mock := &mockSNSClient{
		publishFunc: func(_ context.Context, _ *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("topic gone")
		},
	}
	sink := NewSNSSinkWithClient(mock, "arn:aws:sns:us-east-1:123:arb-relay-alerts")

	if err := sink.Publish(context.Background(), testEvent(TypeLeaderAcquired)); err == nil {
		t.Error("expected publish error to propagate")
	}
}

// mockSink implements Sink for fan-out testing.
type mockSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *mockSink) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestMultiSink_FanOut(t *testing.T) {
	a := &mockSink{}
	b := &mockSink{}
	multi := NewMultiSink(a, b)

	if err := multi.Publish(context.Background(), testEvent(TypeLeaderAcquired)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("fan-out counts = (%d, %d), want (1, 1)", a.count(), b.count())
	}
}

func TestMultiSink_OneFailureDoesNotBlockOthers(t *testing.T) {
	failing := &mockSink{err: errors.New("sink down")}
	healthy := &mockSink{}
	multi := NewMultiSink(failing, healthy)

	err := multi.Publish(context.Background(), testEvent(TypeLeaderRenewalFailed))
	if err == nil {
		t.Error("expected joined error from failing sink")
	}
	if healthy.count() != 1 {
		t.Error("healthy sink must still receive the event")
	}
}

func TestLogSink_Publish(t *testing.T) {
	sink := NewLogSink()
	for _, eventType := range []string{
		TypeLeaderAcquired, TypeLeaderLost, TypeLeaderRenewalFailed, TypeStreamHalted,
	} {
		if err := sink.Publish(context.Background(), testEvent(eventType)); err != nil {
			t.Errorf("Publish(%s) failed: %v", eventType, err)
		}
	}
}
