package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/liveness"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"
	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"

	"go.uber.org/zap"
)

type fakeSource struct {
	instances []instance.Instance
	listErr   error
}

func (f *fakeSource) List(ctx context.Context, opt instance.ListOption) ([]instance.Instance, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]instance.Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		if opt.Status == "" || inst.Status == opt.Status {
			out = append(out, inst)
		}
	}
	return out, nil
}

// fakeLifecycle folds liveness into base the way the controller would, so
// the sweep sees the policy fields on the refreshed record.
type fakeLifecycle struct {
	mu sync.Mutex

	base       instance.Instance
	refreshErr error
	stopErr    error

	refreshed   []string
	stopped     []string
	unreachable []string
}

func (f *fakeLifecycle) RefreshLiveness(ctx context.Context, id string, stats *runtime.Stats, now time.Time) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.refreshed = append(f.refreshed, id)
	updated := f.base
	updated.PlayerCount = stats.PlayerCount
	updated.LastSeen = &now
	if stats.PlayerCount > 0 {
		updated.LastPlayerActivity = &now
	}
	return &updated, nil
}

func (f *fakeLifecycle) Stop(ctx context.Context, actor instance.Actor, id string) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return &instance.Instance{ID: id, Status: instance.StatusStopped}, nil
}

func (f *fakeLifecycle) MarkUnreachable(ctx context.Context, id string, message string) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = append(f.unreachable, id)
	return &instance.Instance{ID: id, Status: instance.StatusError}, nil
}

type fakeAdapter struct {
	stats      *runtime.Stats
	statsErr   error
	healthy    bool
	healthyErr error
}

func (f *fakeAdapter) CreateInstance(ctx context.Context, s runtime.Spec) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (f *fakeAdapter) Start(ctx context.Context, ref string) error   { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, ref string) error    { return nil }
func (f *fakeAdapter) Restart(ctx context.Context, ref string) error { return nil }
func (f *fakeAdapter) Remove(ctx context.Context, ref string) error  { return nil }
func (f *fakeAdapter) IsHealthy(ctx context.Context, ref string) (bool, error) {
	return f.healthy, f.healthyErr
}
func (f *fakeAdapter) GetStats(ctx context.Context, ref string) (*runtime.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}
func (f *fakeAdapter) TailLogs(ctx context.Context, ref string, n int) ([]string, error) {
	return []string{}, nil
}
func (f *fakeAdapter) ExecuteCommand(ctx context.Context, ref string, text string) (string, error) {
	return "", nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []eventlog.Entry
}

func (f *fakeRecorder) Append(ctx context.Context, entry eventlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRecorder) hasMessage(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

type fakeCache struct {
	mu    sync.Mutex
	snaps []liveness.Snapshot
}

func (f *fakeCache) Put(snap liveness.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func newTestMonitor(t *testing.T, opt Options) *Monitor {
	t.Helper()
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	m, err := NewMonitor(opt)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return m
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func runningInstance(idleFor time.Duration, now time.Time) instance.Instance {
	activity := now.Add(-idleFor)
	started := now.Add(-idleFor - time.Hour)
	return instance.Instance{
		ID:                      "inst-1",
		OwnerID:                 "user-1",
		RuntimeID:               "ctr-inst-1",
		Status:                  instance.StatusRunning,
		AutoShutdown:            true,
		InactiveShutdownMinutes: 10,
		LastPlayerActivity:      &activity,
		LastStartedAt:           &started,
	}
}

func TestSweepStopsIdleInstance(t *testing.T) {
	now := time.Now()
	inst := runningInstance(11*time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	recorder := &fakeRecorder{}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{stats: &runtime.Stats{}},
		Recorder:  recorder,
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(lc.stopped) != 1 || lc.stopped[0] != "inst-1" {
		t.Errorf("stopped = %v, want [inst-1]", lc.stopped)
	}
	if !recorder.hasMessage("reason: inactive") {
		t.Error("expected an idle shutdown event citing the reason")
	}
	if !recorder.hasMessage("10 minutes") {
		t.Error("expected the event to cite the policy threshold")
	}
}

func TestSweepLeavesActiveInstanceAlone(t *testing.T) {
	now := time.Now()
	inst := runningInstance(11*time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	cache := &fakeCache{}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter: &fakeAdapter{stats: &runtime.Stats{
			PlayerCount:   2,
			OnlinePlayers: []string{"alice", "bob"},
		}},
		Recorder: &fakeRecorder{},
		Cache:    cache,
		Now:      fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(lc.stopped) != 0 {
		t.Errorf("stopped = %v, want none while players are online", lc.stopped)
	}
	if len(lc.refreshed) != 1 {
		t.Errorf("refreshed = %v, want one refresh", lc.refreshed)
	}
	if len(cache.snaps) != 1 || cache.snaps[0].PlayerCount != 2 {
		t.Errorf("cached snaps = %+v, want one with 2 players", cache.snaps)
	}
}

func TestSweepRespectsDisabledPolicy(t *testing.T) {
	now := time.Now()
	inst := runningInstance(2*time.Hour, now)
	inst.AutoShutdown = false
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{stats: &runtime.Stats{}},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(lc.stopped) != 0 {
		t.Errorf("stopped = %v, want none with auto-shutdown disabled", lc.stopped)
	}
}

func TestSweepBelowThresholdNotStopped(t *testing.T) {
	now := time.Now()
	inst := runningInstance(9*time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{stats: &runtime.Stats{}},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(lc.stopped) != 0 {
		t.Errorf("stopped = %v, want none below the idle threshold", lc.stopped)
	}
}

// An instance that never saw a player is measured from its last start.
func TestSweepIdleBaselineFallsBackToStart(t *testing.T) {
	now := time.Now()
	started := now.Add(-30 * time.Minute)
	inst := instance.Instance{
		ID:                      "inst-1",
		RuntimeID:               "ctr-inst-1",
		Status:                  instance.StatusRunning,
		AutoShutdown:            true,
		InactiveShutdownMinutes: 10,
		LastStartedAt:           &started,
	}
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{stats: &runtime.Stats{}},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(lc.stopped) != 1 {
		t.Errorf("stopped = %v, want [inst-1]", lc.stopped)
	}
}

// A user stop racing the sweep surfaces as ErrConflictingState, which the
// sweep treats as already handled: no event, no escalation.
func TestSweepIdleStopRaceIsNoop(t *testing.T) {
	now := time.Now()
	inst := runningInstance(11*time.Minute, now)
	lc := &fakeLifecycle{base: inst, stopErr: fmt.Errorf("%w: instance is stopping", spec.ErrConflictingState)}
	recorder := &fakeRecorder{}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{stats: &runtime.Stats{}},
		Recorder:  recorder,
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recorder.hasMessage("reason: inactive") {
		t.Error("no shutdown event should be recorded when the stop lost the race")
	}
}

func TestSweepProbeFailureSkipsInstance(t *testing.T) {
	now := time.Now()
	inst := runningInstance(11*time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{statsErr: errors.New("engine unreachable")},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(lc.refreshed) != 0 || len(lc.stopped) != 0 {
		t.Error("a failed probe must not refresh or stop the instance")
	}
}

func TestHealthCheckMarksUnreachable(t *testing.T) {
	now := time.Now()
	inst := runningInstance(time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{healthyErr: errors.New("engine unreachable")},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if len(lc.unreachable) != 1 || lc.unreachable[0] != "inst-1" {
		t.Errorf("unreachable = %v, want [inst-1]", lc.unreachable)
	}
}

func TestHealthCheckHealthyInstanceUntouched(t *testing.T) {
	now := time.Now()
	inst := runningInstance(time.Minute, now)
	lc := &fakeLifecycle{base: inst}
	m := newTestMonitor(t, Options{
		Instances: &fakeSource{instances: []instance.Instance{inst}},
		Lifecycle: lc,
		Adapter:   &fakeAdapter{healthy: true},
		Recorder:  &fakeRecorder{},
		Now:       fixedClock(now),
	})

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if len(lc.unreachable) != 0 {
		t.Errorf("unreachable = %v, want none", lc.unreachable)
	}
}
