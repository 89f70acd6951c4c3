package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"
	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"

	"go.uber.org/zap"
)

type fakeInstances struct {
	inst *instance.Instance
}

func (f *fakeInstances) GetByID(ctx context.Context, id string) (*instance.Instance, error) {
	if f.inst == nil || f.inst.ID != id {
		return nil, nil
	}
	copied := *f.inst
	return &copied, nil
}

type resolved struct {
	id       string
	status   string
	response string
}

type fakeCommandStore struct {
	mu       sync.Mutex
	created  []Command
	resolves []resolved
}

func (f *fakeCommandStore) Create(ctx context.Context, cmd *Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *cmd)
	return nil
}

func (f *fakeCommandStore) Resolve(ctx context.Context, id string, status string, response string, elapsed time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, resolved{id: id, status: status, response: response})
	return nil
}

type fakeRuntime struct {
	out string
	err error
}

func (f *fakeRuntime) CreateInstance(ctx context.Context, s runtime.Spec) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (f *fakeRuntime) Start(ctx context.Context, ref string) error   { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, ref string) error    { return nil }
func (f *fakeRuntime) Restart(ctx context.Context, ref string) error { return nil }
func (f *fakeRuntime) Remove(ctx context.Context, ref string) error  { return nil }
func (f *fakeRuntime) IsHealthy(ctx context.Context, ref string) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) GetStats(ctx context.Context, ref string) (*runtime.Stats, error) {
	return &runtime.Stats{}, nil
}
func (f *fakeRuntime) TailLogs(ctx context.Context, ref string, n int) ([]string, error) {
	return []string{}, nil
}
func (f *fakeRuntime) ExecuteCommand(ctx context.Context, ref string, text string) (string, error) {
	return f.out, f.err
}

type fakeEscalator struct {
	marked []string
}

func (f *fakeEscalator) MarkUnreachable(ctx context.Context, id string, message string) (*instance.Instance, error) {
	f.marked = append(f.marked, id)
	return &instance.Instance{ID: id, Status: instance.StatusError}, nil
}

type fakeRecorder struct {
	entries []eventlog.Entry
}

func (f *fakeRecorder) Append(ctx context.Context, entry eventlog.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

var issuer = instance.Actor{ID: "user-1"}

func runningInstance() *instance.Instance {
	return &instance.Instance{
		ID:        "inst-1",
		OwnerID:   "user-1",
		RuntimeID: "ctr-inst-1",
		Status:    instance.StatusRunning,
	}
}

func newTestExecutor(t *testing.T, inst *instance.Instance, rt *fakeRuntime) (*Executor, *fakeCommandStore, *fakeEscalator, *fakeRecorder) {
	t.Helper()
	store := &fakeCommandStore{}
	escalator := &fakeEscalator{}
	recorder := &fakeRecorder{}
	e, err := NewExecutor(ExecutorOptions{
		Instances: &fakeInstances{inst: inst},
		Store:     store,
		Adapter:   rt,
		Escalator: escalator,
		Recorder:  recorder,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e, store, escalator, recorder
}

func TestExecuteSuccess(t *testing.T) {
	e, store, _, recorder := newTestExecutor(t, runningInstance(), &fakeRuntime{out: "Given [Diamond] to alice"})

	cmd, err := e.Execute(context.Background(), issuer, "inst-1", "give alice diamond 1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cmd.Status != StatusExecuted {
		t.Errorf("status = %s, want %s", cmd.Status, StatusExecuted)
	}
	if cmd.Response != "Given [Diamond] to alice" {
		t.Errorf("response = %q", cmd.Response)
	}
	if cmd.ExecutionTimeMs == nil {
		t.Error("expected execution time to be recorded")
	}

	if len(store.created) != 1 || store.created[0].Status != StatusPending {
		t.Fatalf("created = %+v, want one pending record", store.created)
	}
	if len(store.resolves) != 1 || store.resolves[0].status != StatusExecuted {
		t.Fatalf("resolves = %+v, want one executed", store.resolves)
	}
	if len(recorder.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(recorder.entries))
	}
}

// A command the server rejects still comes back as a terminal Command
// record, not as an Execute error: failure is a property of the command.
func TestExecuteFailureIsTerminalNotError(t *testing.T) {
	e, store, escalator, _ := newTestExecutor(t, runningInstance(), &fakeRuntime{err: errors.New("Unknown command")})

	cmd, err := e.Execute(context.Background(), issuer, "inst-1", "frobnicate")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cmd.Status != StatusFailed {
		t.Errorf("status = %s, want %s", cmd.Status, StatusFailed)
	}
	if cmd.Response != "Unknown command" {
		t.Errorf("response = %q", cmd.Response)
	}
	if len(store.resolves) != 1 || store.resolves[0].status != StatusFailed {
		t.Fatalf("resolves = %+v, want one failed", store.resolves)
	}
	if len(escalator.marked) != 0 {
		t.Error("an ordinary failure must not escalate")
	}
}

func TestExecuteDeniedVerbs(t *testing.T) {
	for _, text := range []string{
		"stop",
		"restart",
		"kill server",
		"end",
		"shutdown now",
		"/stop",
		"STOP",
		"  stop  ",
	} {
		t.Run(text, func(t *testing.T) {
			e, store, _, _ := newTestExecutor(t, runningInstance(), &fakeRuntime{})
			_, err := e.Execute(context.Background(), issuer, "inst-1", text)
			if !errors.Is(err, spec.ErrUseDedicatedEndpoint) {
				t.Errorf("err = %v, want ErrUseDedicatedEndpoint", err)
			}
			if len(store.created) != 0 {
				t.Error("a denied command must not be persisted")
			}
		})
	}
}

func TestExecuteVerbOnlyDeniedAsPrefix(t *testing.T) {
	// "stopwatch" contains a denied verb but is not one
	e, _, _, _ := newTestExecutor(t, runningInstance(), &fakeRuntime{out: "ok"})
	if _, err := e.Execute(context.Background(), issuer, "inst-1", "stopwatch start"); err != nil {
		t.Errorf("Execute: %v", err)
	}
}

func TestExecuteRejectsUnknownInstance(t *testing.T) {
	e, _, _, _ := newTestExecutor(t, nil, &fakeRuntime{})
	_, err := e.Execute(context.Background(), issuer, "inst-1", "list")
	if !errors.Is(err, spec.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteRejectsForeignInstance(t *testing.T) {
	inst := runningInstance()
	inst.OwnerID = "user-2"
	e, _, _, _ := newTestExecutor(t, inst, &fakeRuntime{})
	_, err := e.Execute(context.Background(), issuer, "inst-1", "list")
	if !errors.Is(err, spec.ErrAccessDenied) {
		t.Errorf("err = %v, want ErrAccessDenied", err)
	}
}

func TestExecuteRejectsNonRunningInstance(t *testing.T) {
	inst := runningInstance()
	inst.Status = instance.StatusStopped
	e, store, _, _ := newTestExecutor(t, inst, &fakeRuntime{})
	_, err := e.Execute(context.Background(), issuer, "inst-1", "list")
	if !errors.Is(err, spec.ErrConflictingState) {
		t.Errorf("err = %v, want ErrConflictingState", err)
	}
	if len(store.created) != 0 {
		t.Error("a rejected command must not be persisted")
	}
}

func TestExecuteEscalatesMissingBackingResource(t *testing.T) {
	e, _, escalator, _ := newTestExecutor(t, runningInstance(), &fakeRuntime{err: runtime.ErrNotFound})

	cmd, err := e.Execute(context.Background(), issuer, "inst-1", "list")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cmd.Status != StatusFailed {
		t.Errorf("status = %s, want %s", cmd.Status, StatusFailed)
	}
	if len(escalator.marked) != 1 || escalator.marked[0] != "inst-1" {
		t.Errorf("marked = %v, want [inst-1]", escalator.marked)
	}
}
