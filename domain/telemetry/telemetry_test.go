package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/open-teleop/dashboard/domain/robot"
	"github.com/open-teleop/dashboard/pkg/gateway"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// countingSource returns a fixed report and counts calls.
type countingSource struct {
	calls  atomic.Int32
	report robot.StatusReport
	err    error
}

func (s *countingSource) GetStatus(ctx context.Context) (robot.StatusReport, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestPollerSchedule(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Unix(0, 0))
	source := &countingSource{report: robot.FullReport(robot.MockStatus())}
	store := NewStore(PolicyVersioned)

	p := NewPoller(source, store, PollerConfig{Interval: 2 * time.Second, Clock: fakeClock}, customlog.NewNopLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	waitFor(t, "immediate poll", func() bool { return source.calls.Load() == 1 })
	waitFor(t, "ticker registration", fakeClock.HasWaiters)

	fakeClock.Step(2 * time.Second)
	waitFor(t, "second poll", func() bool { return source.calls.Load() == 2 })

	fakeClock.Step(1999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if got := source.calls.Load(); got != 2 {
		t.Fatalf("Expected no poll before the 2s boundary, got %d calls", got)
	}

	fakeClock.Step(time.Millisecond)
	waitFor(t, "third poll", func() bool { return source.calls.Load() == 3 })

	p.Stop()
	if p.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", p.State())
	}

	fakeClock.Step(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := source.calls.Load(); got != 3 {
		t.Errorf("Expected no polls after Stop, got %d calls", got)
	}
}

func TestPollerStopIdempotentAndNoRestart(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Unix(0, 0))
	source := &countingSource{report: robot.FullReport(robot.MockStatus())}
	p := NewPoller(source, NewStore(""), PollerConfig{Clock: fakeClock}, customlog.NewNopLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	p.Stop()
	p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := NewPoller(&countingSource{}, NewStore(""), PollerConfig{}, customlog.NewNopLogger())
	p.Stop()
	if p.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", p.State())
	}
}

func TestPollerCountsFailures(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Unix(0, 0))
	source := &countingSource{report: gateway.Fallback(), err: gateway.ErrTransport}
	store := NewStore(PolicyVersioned)
	p := NewPoller(source, store, PollerConfig{Clock: fakeClock}, customlog.NewNopLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	waitFor(t, "failed poll recorded", func() bool { return p.Stats().Failures == 1 })
	stats := p.Stats()
	if stats.Polls != 1 || stats.LastError == "" {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if store.Snapshot() != robot.FallbackStatus() {
		t.Errorf("Expected fallback merged, got %+v", store.Snapshot())
	}
}

// Starting against the mock gateway, the first poll leaves exactly the mock
// record in the store.
func TestMockFirstTick(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Unix(0, 0))
	store := NewStore(PolicyVersioned)
	gw := gateway.NewMockGateway(0, customlog.NewNopLogger())
	p := NewPoller(gw, store, PollerConfig{Clock: fakeClock}, customlog.NewNopLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	waitFor(t, "first poll", func() bool { return p.Stats().Polls == 1 })
	if got := store.Snapshot(); got != robot.MockStatus() {
		t.Errorf("Expected mock status after first tick, got %+v", got)
	}
}

func TestStoreInitialStatus(t *testing.T) {
	s := NewStore("")
	if s.Snapshot() != robot.InitialStatus() {
		t.Errorf("Expected initial status, got %+v", s.Snapshot())
	}
	if s.Mode() != robot.ModeManual {
		t.Errorf("Expected MANUAL initially, got %s", s.Mode())
	}
	if s.Policy() != PolicyVersioned {
		t.Errorf("Expected versioned policy by default, got %s", s.Policy())
	}
}

func TestStoreMergeIsFieldWise(t *testing.T) {
	s := NewStore(PolicyTelemetry)
	s.Merge(robot.FullReport(robot.MockStatus()), s.BeginPoll())

	heading := 370.0
	s.Merge(robot.StatusReport{Heading: &heading}, s.BeginPoll())

	want := robot.MockStatus()
	want.Heading = 10
	if got := s.Snapshot(); got != want {
		t.Errorf("Merge mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func automaticReport() robot.StatusReport {
	st := robot.MockStatus()
	st.Mode = robot.ModeAutomatic
	return robot.FullReport(st)
}

func manualReport() robot.StatusReport {
	return robot.FullReport(robot.MockStatus())
}

func TestModePolicyVersioned(t *testing.T) {
	s := NewStore(PolicyVersioned)

	// A poll in flight while the operator toggles.
	stale := s.BeginPoll()
	s.SetLocalMode(robot.ModeAutomatic)
	s.Merge(manualReport(), stale)
	if s.Mode() != robot.ModeAutomatic {
		t.Fatalf("Stale poll must not revert local toggle, got %s", s.Mode())
	}
	if s.Snapshot().BatteryVoltage != 12.4 {
		t.Errorf("Other fields from the stale poll should still merge")
	}

	// The next poll started after the toggle is authoritative.
	s.Merge(manualReport(), s.BeginPoll())
	if s.Mode() != robot.ModeManual {
		t.Errorf("Fresh poll should win, got %s", s.Mode())
	}
}

func TestModePolicyLocal(t *testing.T) {
	s := NewStore(PolicyLocal)

	s.Merge(automaticReport(), s.BeginPoll())
	if s.Mode() != robot.ModeAutomatic {
		t.Fatalf("Telemetry mode applies before any local toggle, got %s", s.Mode())
	}

	s.SetLocalMode(robot.ModeManual)
	s.Merge(automaticReport(), s.BeginPoll())
	if s.Mode() != robot.ModeManual {
		t.Errorf("Local mode should stick, got %s", s.Mode())
	}
}

func TestModePolicyTelemetry(t *testing.T) {
	s := NewStore(PolicyTelemetry)

	stale := s.BeginPoll()
	s.SetLocalMode(robot.ModeAutomatic)
	s.Merge(manualReport(), stale)
	if s.Mode() != robot.ModeManual {
		t.Errorf("Last writer should win, got %s", s.Mode())
	}
}

func TestParseModePolicy(t *testing.T) {
	if p, err := ParseModePolicy(""); err != nil || p != PolicyVersioned {
		t.Errorf("Empty policy should default to versioned, got %s %v", p, err)
	}
	if _, err := ParseModePolicy("newest"); err == nil {
		t.Errorf("Expected error for unknown policy")
	}
}

func TestStoreSubscribeLatestOnly(t *testing.T) {
	s := NewStore(PolicyTelemetry)
	updates, cancel := s.Subscribe()
	defer cancel()

	if first := <-updates; first != robot.InitialStatus() {
		t.Fatalf("Expected initial status first, got %+v", first)
	}

	for i := 1; i <= 3; i++ {
		v := float64(i)
		s.Merge(robot.StatusReport{BatteryVoltage: &v}, s.BeginPoll())
	}
	if got := <-updates; got.BatteryVoltage != 3 {
		t.Errorf("Expected latest value 3, got %v", got.BatteryVoltage)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Errorf("Channel should be closed after cancel")
	}
	cancel()
}

type recordingSink struct {
	name string
	err  error

	mu       sync.Mutex
	statuses []robot.Status
	closed   bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) PublishStatus(_ context.Context, st robot.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses)
}

func TestRelayFansOut(t *testing.T) {
	store := NewStore(PolicyVersioned)
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	relay := NewRelay(store, []Sink{bad, good}, customlog.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// Wait for the relay to subscribe before merging.
	time.Sleep(20 * time.Millisecond)
	store.Merge(robot.FullReport(robot.MockStatus()), store.BeginPoll())

	waitFor(t, "good sink publish", func() bool { return good.count() >= 1 })
	waitFor(t, "failing sink publish", func() bool { return bad.count() >= 1 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if err := relay.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
	if !good.closed || !bad.closed {
		t.Errorf("Close should close every sink")
	}
}

// blockingSink holds every publish until released.
type blockingSink struct {
	recordingSink
	release chan struct{}
}

func (s *blockingSink) PublishStatus(ctx context.Context, st robot.Status) error {
	<-s.release
	return s.recordingSink.PublishStatus(ctx, st)
}

func TestRelaySlowSinkDoesNotDelayOthers(t *testing.T) {
	store := NewStore(PolicyVersioned)
	slow := &blockingSink{recordingSink: recordingSink{name: "slow"}, release: make(chan struct{})}
	fast := &recordingSink{name: "fast"}
	relay := NewRelay(store, []Sink{slow, fast}, customlog.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		v := float64(i)
		store.Merge(robot.StatusReport{BatteryVoltage: &v}, store.BeginPoll())
		waitFor(t, "fast sink publish", func() bool { return fast.count() >= i })
	}
	if slow.count() != 0 {
		t.Errorf("Slow sink should still be blocked")
	}

	close(slow.release)
	waitFor(t, "slow sink catches up", func() bool { return slow.count() >= 1 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestRelayWithoutSinks(t *testing.T) {
	relay := NewRelay(NewStore(""), nil, customlog.NewNopLogger(), nil)
	if err := relay.Run(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}
