package election

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crosslane/arb-relay/pkg/alert"
	"github.com/crosslane/arb-relay/pkg/scheduler"
)

// fakeStore is a lockstore.Store with func fields for per-test behavior.
type fakeStore struct {
	mu       sync.Mutex
	acquire  func(ctx context.Context, key, token string, ttl time.Duration) (int64, bool, error)
	renew    func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release  func(ctx context.Context, key, token string) error
	released []string
}

func (f *fakeStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (int64, bool, error) {
	if f.acquire == nil {
		return 0, false, nil
	}
	return f.acquire(ctx, key, token, ttl)
}

func (f *fakeStore) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if f.renew == nil {
		return false, nil
	}
	return f.renew(ctx, key, token, ttl)
}

func (f *fakeStore) Release(ctx context.Context, key, token string) error {
	f.mu.Lock()
	f.released = append(f.released, token)
	f.mu.Unlock()
	if f.release == nil {
		return nil
	}
	return f.release(ctx, key, token)
}

func (f *fakeStore) releasedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

// fakeScheduler records registrations so tests can drive ticks manually.
type fakeScheduler struct {
	mu        sync.Mutex
	tasks     map[string]scheduler.Task
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]scheduler.Task)}
}

func (f *fakeScheduler) Register(name string, _ time.Duration, fn scheduler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[name] = fn
	return nil
}

func (f *fakeScheduler) Cancel(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, name)
	_, ok := f.tasks[name]
	delete(f.tasks, name)
	return ok
}

// fakeSink collects alert events in order.
type fakeSink struct {
	mu     sync.Mutex
	events []alert.Event
}

func (f *fakeSink) Publish(_ context.Context, ev alert.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

func testConfig() Config {
	return Config{
		InstanceID:      "instance-a",
		Region:          "ap-northeast-1",
		LeaseName:       "arb-relay:leader",
		LeaseTTL:        30 * time.Second,
		RenewalInterval: 10 * time.Second,
		StoreTimeout:    5 * time.Second,
		ResignHoldoff:   time.Minute,
	}
}

func TestStart_WinsLease(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 7, true, nil
		},
	}
	sink := &fakeSink{}
	e := New(testConfig(), store, newFakeScheduler(), sink, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !e.IsLeader() {
		t.Error("expected IsLeader() true after winning acquisition")
	}
	if e.Epoch() != 7 {
		t.Errorf("Epoch() = %d, want 7", e.Epoch())
	}
	snap := e.Snapshot()
	if snap.State != StateLeader || !snap.Leader || snap.Epoch != 7 {
		t.Errorf("Snapshot() = %+v, want LEADER/true/7", snap)
	}
	if got := sink.types(); len(got) != 1 || got[0] != alert.TypeLeaderAcquired {
		t.Errorf("alerts = %v, want [LEADER_ACQUIRED]", got)
	}
}

func TestStart_LeaseHeldByOther(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 0, false, nil
		},
	}
	sink := &fakeSink{}
	e := New(testConfig(), store, newFakeScheduler(), sink, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if e.IsLeader() {
		t.Error("expected follower while lease is held elsewhere")
	}
	if got := e.Snapshot().State; got != StateFollower {
		t.Errorf("state = %s, want FOLLOWER", got)
	}
	if got := sink.types(); len(got) != 0 {
		t.Errorf("alerts = %v, want none for a quiet follower", got)
	}
}

func TestStart_Twice(t *testing.T) {
	e := New(testConfig(), &fakeStore{}, newFakeScheduler(), nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Start = %v, want ErrNotStarted", err)
	}
}

func TestAcquire_StoreErrorIsRetriable(t *testing.T) {
	calls := 0
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			calls++
			if calls == 1 {
				return 0, false, errors.New("connection refused")
			}
			return 3, true, nil
		},
	}
	sched := newFakeScheduler()
	e := New(testConfig(), store, sched, nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if e.IsLeader() {
		t.Fatal("store error must not yield leadership")
	}

	// Next tick retries and wins.
	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("renewal tick failed: %v", err)
	}
	if !e.IsLeader() {
		t.Error("expected leadership on the retry tick")
	}
}

func TestRenew_FailureDemotes(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 1, true, nil
		},
		renew: func(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
			return false, nil
		},
	}
	sched := newFakeScheduler()
	sink := &fakeSink{}
	e := New(testConfig(), store, sched, sink, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.IsLeader() {
		t.Fatal("expected leadership before renewal tick")
	}

	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("renewal tick failed: %v", err)
	}

	if e.IsLeader() {
		t.Error("failed renewal must demote before the tick completes")
	}
	if got := e.Snapshot().State; got != StateFollower {
		t.Errorf("state = %s, want FOLLOWER after demotion", got)
	}
	want := []string{alert.TypeLeaderAcquired, alert.TypeLeaderRenewalFailed, alert.TypeLeaderLost}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("alerts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("alert[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRenew_StoreErrorDemotes(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 1, true, nil
		},
		renew: func(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
			return false, errors.New("timeout")
		},
	}
	sched := newFakeScheduler()
	e := New(testConfig(), store, sched, nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("renewal tick failed: %v", err)
	}

	if e.IsLeader() {
		t.Error("a renewal error must be treated as leadership lost")
	}
}

func TestEpoch_MonotonicAcrossTerms(t *testing.T) {
	epochs := []int64{1, 4}
	renewOK := true
	store := &fakeStore{}
	store.acquire = func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
		next := epochs[0]
		epochs = epochs[1:]
		return next, true, nil
	}
	store.renew = func(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
		return renewOK, nil
	}

	sched := newFakeScheduler()
	e := New(testConfig(), store, sched, nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if e.Epoch() != 1 {
		t.Fatalf("first term epoch = %d, want 1", e.Epoch())
	}

	// Lose the lease, then win a later term with a larger store epoch.
	renewOK = false
	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("demotion tick failed: %v", err)
	}
	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("re-acquisition tick failed: %v", err)
	}

	if e.Epoch() != 4 {
		t.Errorf("second term epoch = %d, want 4", e.Epoch())
	}
}

func TestStop_ReleasesHeldLease(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, token string, _ time.Duration) (int64, bool, error) {
			return 1, true, nil
		},
	}
	sched := newFakeScheduler()
	sink := &fakeSink{}
	e := New(testConfig(), store, sched, sink, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := e.Snapshot().State; got != StateStopped {
		t.Errorf("state = %s, want STOPPED", got)
	}
	if len(store.releasedTokens()) != 1 {
		t.Error("expected a best-effort release of the held lease")
	}
	if len(sched.cancelled) == 0 || sched.cancelled[0] != renewalTask {
		t.Error("Stop must cancel the renewal task before releasing")
	}
	types := sink.types()
	if len(types) == 0 || types[len(types)-1] != alert.TypeLeaderLost {
		t.Errorf("alerts = %v, want trailing LEADER_LOST on leader shutdown", types)
	}
}

func TestStop_AsFollowerSkipsRelease(t *testing.T) {
	store := &fakeStore{}
	e := New(testConfig(), store, newFakeScheduler(), nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(store.releasedTokens()) != 0 {
		t.Error("a follower has nothing to release")
	}
}

func TestResign_HoldsOffReacquisition(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 1, true, nil
		},
	}
	sched := newFakeScheduler()
	sink := &fakeSink{}
	e := New(testConfig(), store, sched, sink, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Resign(context.Background()); err != nil {
		t.Fatalf("Resign failed: %v", err)
	}

	if e.IsLeader() {
		t.Error("expected follower after resignation")
	}
	if len(store.releasedTokens()) != 1 {
		t.Error("resignation must release the lease")
	}

	// The holdoff keeps the instance out of contention on the next tick.
	if err := sched.tasks[renewalTask](context.Background()); err != nil {
		t.Fatalf("renewal tick failed: %v", err)
	}
	if e.IsLeader() {
		t.Error("resigned instance re-acquired inside the holdoff window")
	}

	types := sink.types()
	if len(types) != 2 || types[1] != alert.TypeLeaderLost {
		t.Errorf("alerts = %v, want [LEADER_ACQUIRED LEADER_LOST]", types)
	}
}

func TestResign_AsFollowerIsNoop(t *testing.T) {
	store := &fakeStore{}
	e := New(testConfig(), store, newFakeScheduler(), nil, nil, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Resign(context.Background()); err != nil {
		t.Fatalf("Resign failed: %v", err)
	}
	if len(store.releasedTokens()) != 0 {
		t.Error("follower resignation must not touch the store")
	}
}

func TestTransitionHook(t *testing.T) {
	store := &fakeStore{
		acquire: func(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
			return 2, true, nil
		},
	}
	var mu sync.Mutex
	var seen []Snapshot
	hook := func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	e := New(testConfig(), store, newFakeScheduler(), nil, nil, hook)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !seen[0].Leader || seen[0].Epoch != 2 {
		t.Errorf("transition hook saw %+v, want one LEADER/epoch-2 snapshot", seen)
	}
}

func TestNoopElector(t *testing.T) {
	e := NewNoopElector()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.IsLeader() {
		t.Error("noop elector must always lead")
	}
	if snap := e.Snapshot(); !snap.Leader || snap.Epoch != 0 {
		t.Errorf("Snapshot() = %+v, want leader at epoch 0", snap)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
