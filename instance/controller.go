package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"
	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the slice of the persistence layer the controller needs.
// *Manager satisfies it; tests provide an in-memory fake with the
// same conditional-update semantics.
type Store interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id string) (*Instance, error)
	Remove(ctx context.Context, id string, from []string) (bool, error)
	LambdaUpdate(ctx context.Context, id string, lambda LambdaUpdateFunc) LambdaResult
}

// Recorder is the append-only event sink.
type Recorder interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

const defaultRuntimeTimeout = time.Second * 30

type ControllerOptions struct {
	Store    Store
	Adapter  runtime.Adapter
	Recorder Recorder
	Logger   *zap.Logger

	// RuntimeTimeout bounds every compute-side call. A timeout is treated
	// as a reconciliation failure, never as an indefinite hang.
	RuntimeTimeout time.Duration
}

// Controller is the lifecycle state machine governing status transitions.
// Every user- or system-initiated action goes through it: it validates
// ownership and the status precondition, performs the conditional status
// write that doubles as the concurrency gate, invokes the compute layer,
// reconciles the persisted status with the true outcome, and appends an
// event describing what happened.
type Controller struct {
	ControllerOptions
}

func NewController(option ControllerOptions) (*Controller, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Adapter == nil {
		return nil, fmt.Errorf("nil Adapter is invalid")
	}
	if option.Recorder == nil {
		return nil, fmt.Errorf("nil Recorder is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.RuntimeTimeout <= 0 {
		option.RuntimeTimeout = defaultRuntimeTimeout
	}
	return &Controller{
		ControllerOptions: option,
	}, nil
}

// CreateOption carries the declared configuration of a new instance.
type CreateOption struct {
	Name                    string
	MaxPlayers              int
	Mode                    string
	Difficulty              string
	MemoryMB                int
	Extensions              []string
	AutoShutdown            bool
	InactiveShutdownMinutes int
}

// Create provisions a new instance for ownerID. The record is persisted in
// status creating with its port allocated atomically, then the compute-side
// resource is materialized; the instance lands in stopped on success and in
// error on failure.
func (c *Controller) Create(ctx context.Context, actor Actor, ownerID string, opt CreateOption) (*Instance, error) {
	if !actor.mayAct(ownerID) {
		return nil, spec.ErrAccessDenied
	}
	if len(opt.Name) == 0 {
		return nil, fmt.Errorf("empty Name is invalid")
	}

	id := DeriveID(ownerID, opt.Name)
	existing, err := c.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", spec.ErrAlreadyExists, opt.Name)
	}

	inst := &Instance{
		ID:                      id,
		OwnerID:                 ownerID,
		Name:                    opt.Name,
		Status:                  StatusCreating,
		MaxPlayers:              opt.MaxPlayers,
		Mode:                    opt.Mode,
		Difficulty:              opt.Difficulty,
		MemoryMB:                opt.MemoryMB,
		Extensions:              StringList(opt.Extensions),
		OnlinePlayers:           StringList{},
		AutoShutdown:            opt.AutoShutdown,
		InactiveShutdownMinutes: opt.InactiveShutdownMinutes,
	}
	if err := c.Store.Create(ctx, inst); err != nil {
		return nil, err
	}
	c.record(ctx, id, actor.ID, eventlog.LevelInfo, fmt.Sprintf("Provisioning instance %q on port %d", opt.Name, inst.Port))

	rctx, cancel := context.WithTimeout(ctx, c.RuntimeTimeout)
	defer cancel()
	ref, err := c.Adapter.CreateInstance(rctx, runtime.Spec{
		InstanceID: inst.ID,
		Name:       inst.ContainerName(),
		Port:       inst.Port,
		MaxPlayers: inst.MaxPlayers,
		Mode:       inst.Mode,
		Difficulty: inst.Difficulty,
		MemoryMB:   inst.MemoryMB,
		Extensions: opt.Extensions,
	})
	if err != nil {
		c.reconcileError(ctx, inst.ID, StatusCreating, err)
		c.record(ctx, inst.ID, actor.ID, eventlog.LevelError, "Provisioning failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", spec.ErrRuntimeUnavailable, err)
	}

	created, err := c.transition(ctx, System, inst.ID, []string{StatusCreating}, func(desired *Instance) {
		desired.Status = StatusStopped
		desired.RuntimeID = ref
		desired.LastError = ""
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, inst.ID, actor.ID, eventlog.LevelInfo, "Instance provisioned")
	return created, nil
}

// Start brings a stopped (or errored) instance up.
func (c *Controller) Start(ctx context.Context, actor Actor, id string) (*Instance, error) {
	gated, err := c.transition(ctx, actor, id, []string{StatusStopped, StatusError}, func(desired *Instance) {
		desired.Status = StatusStarting
	})
	if err != nil {
		return nil, err
	}
	return c.finishStart(ctx, actor, gated, false)
}

// Stop brings a running instance down.
func (c *Controller) Stop(ctx context.Context, actor Actor, id string) (*Instance, error) {
	gated, err := c.transition(ctx, actor, id, []string{StatusRunning}, func(desired *Instance) {
		desired.Status = StatusStopping
	})
	if err != nil {
		return nil, err
	}
	return c.finishStop(ctx, actor, gated)
}

// Restart walks the full stop-then-start path, confirming the compute-side
// outcome at every edge. The restart counters advance only on the final
// successful transition to running.
func (c *Controller) Restart(ctx context.Context, actor Actor, id string) (*Instance, error) {
	gated, err := c.transition(ctx, actor, id, []string{StatusRunning}, func(desired *Instance) {
		desired.Status = StatusStopping
	})
	if err != nil {
		return nil, err
	}
	stopped, err := c.finishStop(ctx, actor, gated)
	if err != nil {
		return nil, err
	}
	starting, err := c.transition(ctx, actor, stopped.ID, []string{StatusStopped}, func(desired *Instance) {
		desired.Status = StatusStarting
	})
	if err != nil {
		return nil, err
	}
	return c.finishStart(ctx, actor, starting, true)
}

// Delete tears down the backing resource and removes the record. Only
// permitted from stopped or error. When teardown fails, a non-administrative
// delete leaves the instance in error with the failure recorded; an
// administrator may pass force to remove the record regardless, accepting an
// orphaned backing resource.
func (c *Controller) Delete(ctx context.Context, actor Actor, id string, force bool) error {
	if force && !actor.Admin {
		return spec.ErrAccessDenied
	}

	var captured Instance
	res := c.Store.LambdaUpdate(ctx, id, func(current, desired *Instance) (bool, error) {
		if current == nil {
			return false, spec.ErrNotFound
		}
		if !actor.mayAct(current.OwnerID) {
			return false, spec.ErrAccessDenied
		}
		if current.Status != StatusStopped && current.Status != StatusError {
			return false, fmt.Errorf("%w: cannot delete while %s", spec.ErrConflictingState, current.Status)
		}
		captured = *current
		return false, nil
	})
	if res.Reject != nil {
		return res.Reject
	}
	if res.TxError != nil {
		return extErrors.Wrap(res.TxError, "Cannot verify instance state")
	}

	if captured.RuntimeID != "" {
		rctx, cancel := context.WithTimeout(ctx, c.RuntimeTimeout)
		defer cancel()
		err := c.Adapter.Remove(rctx, captured.RuntimeID)
		if err != nil && !runtime.IsNotFound(err) {
			if !force {
				c.reconcileError(ctx, id, captured.Status, extErrors.Wrap(err, "teardown failed"))
				c.record(ctx, id, actor.ID, eventlog.LevelError, "Teardown failed, instance retained: "+err.Error())
				return fmt.Errorf("%w: %v", spec.ErrRuntimeUnavailable, err)
			}
			c.Logger.Warn("Forcing removal despite teardown failure",
				zap.String("InstanceID", id),
				zap.Error(err),
			)
			c.record(ctx, id, actor.ID, eventlog.LevelWarn, "Record force-removed with backing resource possibly orphaned: "+err.Error())
		}
	}

	removed, err := c.Store.Remove(ctx, id, []string{StatusStopped, StatusError})
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: instance transitioned during delete", spec.ErrConflictingState)
	}
	c.record(ctx, id, actor.ID, eventlog.LevelInfo, "Instance deleted")
	return nil
}

// ConfigPatch carries the mutable subset of the declared configuration. Nil
// fields are left unchanged.
type ConfigPatch struct {
	Name                    *string
	MaxPlayers              *int
	Mode                    *string
	Difficulty              *string
	AutoShutdown            *bool
	InactiveShutdownMinutes *int
}

// UpdateConfig merges the allowed mutable fields. Rejected while the
// instance is mid-transition (creating/starting/stopping).
func (c *Controller) UpdateConfig(ctx context.Context, actor Actor, id string, patch ConfigPatch) (*Instance, error) {
	updated, err := c.transition(ctx, actor, id,
		[]string{StatusStopped, StatusRunning, StatusError},
		func(desired *Instance) {
			if patch.Name != nil {
				desired.Name = *patch.Name
			}
			if patch.MaxPlayers != nil {
				desired.MaxPlayers = *patch.MaxPlayers
			}
			if patch.Mode != nil {
				desired.Mode = *patch.Mode
			}
			if patch.Difficulty != nil {
				desired.Difficulty = *patch.Difficulty
			}
			if patch.AutoShutdown != nil {
				desired.AutoShutdown = *patch.AutoShutdown
			}
			if patch.InactiveShutdownMinutes != nil {
				desired.InactiveShutdownMinutes = *patch.InactiveShutdownMinutes
			}
		})
	if err != nil {
		return nil, err
	}
	c.record(ctx, id, actor.ID, eventlog.LevelInfo, "Configuration updated")
	return updated, nil
}

// PushActivity records an owner-observed liveness snapshot. Only meaningful
// while the instance is running.
func (c *Controller) PushActivity(ctx context.Context, actor Actor, id string, playerCount int, online []string) (*Instance, error) {
	now := time.Now()
	return c.transition(ctx, actor, id, []string{StatusRunning}, func(desired *Instance) {
		applyLiveness(desired, playerCount, online, now)
	})
}

// applyLiveness folds one liveness observation into the desired record:
// last-seen/activity timestamps, the peak counter, and the monotonic
// total-players counter (by newly observed joins). Shared with the activity
// monitor's probe path.
func applyLiveness(desired *Instance, playerCount int, online []string, now time.Time) {
	previous := desired.OnlinePlayers
	previousCount := desired.PlayerCount

	desired.PlayerCount = playerCount
	desired.OnlinePlayers = StringList(online)
	desired.LastSeen = &now
	if playerCount > 0 {
		desired.LastPlayerActivity = &now
	}
	if playerCount > desired.Analytics.PeakPlayerCount {
		desired.Analytics.PeakPlayerCount = playerCount
	}
	if joins := countJoins(previous, online); joins > 0 {
		desired.Analytics.TotalPlayers += int64(joins)
	} else if len(online) == 0 && playerCount > previousCount {
		// count-only observation without names
		desired.Analytics.TotalPlayers += int64(playerCount - previousCount)
	}
}

// RefreshLiveness is the monitor-facing variant of PushActivity: same fold,
// system issuer, no ownership friction.
func (c *Controller) RefreshLiveness(ctx context.Context, id string, stats *runtime.Stats, now time.Time) (*Instance, error) {
	return c.transition(ctx, System, id, []string{StatusRunning}, func(desired *Instance) {
		applyLiveness(desired, stats.PlayerCount, stats.OnlinePlayers, now)
	})
}

// MarkUnreachable reconciles a running instance that failed a health probe
// into error. Racing transitions surface as spec.ErrConflictingState, which
// callers treat as a no-op.
func (c *Controller) MarkUnreachable(ctx context.Context, id string, message string) (*Instance, error) {
	marked, err := c.transition(ctx, System, id, []string{StatusRunning}, func(desired *Instance) {
		desired.Status = StatusError
		desired.LastError = message
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, id, eventlog.IssuerSystem, eventlog.LevelWarn, "Instance unreachable: "+message)
	return marked, nil
}

// ResetAnalytics zeroes the monotonic counters. Administrative callers only.
func (c *Controller) ResetAnalytics(ctx context.Context, actor Actor, id string) (*Instance, error) {
	if !actor.Admin {
		return nil, spec.ErrAccessDenied
	}
	reset, err := c.transition(ctx, actor, id,
		[]string{StatusStopped, StatusRunning, StatusError},
		func(desired *Instance) {
			desired.Analytics = Analytics{}
		})
	if err != nil {
		return nil, err
	}
	c.record(ctx, id, actor.ID, eventlog.LevelInfo, "Analytics reset")
	return reset, nil
}

// finishStart invokes the compute-side start and reconciles the outcome from
// the starting state.
func (c *Controller) finishStart(ctx context.Context, actor Actor, gated *Instance, restart bool) (*Instance, error) {
	rctx, cancel := context.WithTimeout(ctx, c.RuntimeTimeout)
	defer cancel()
	if err := c.Adapter.Start(rctx, gated.RuntimeID); err != nil {
		c.reconcileError(ctx, gated.ID, StatusStarting, err)
		c.record(ctx, gated.ID, actor.ID, eventlog.LevelError, "Failed to start instance: "+err.Error())
		return nil, fmt.Errorf("%w: %v", spec.ErrRuntimeUnavailable, err)
	}

	now := time.Now()
	running, err := c.transition(ctx, System, gated.ID, []string{StatusStarting}, func(desired *Instance) {
		desired.Status = StatusRunning
		desired.LastError = ""
		desired.LastSeen = &now
		desired.LastStartedAt = &now
		if restart {
			desired.Analytics.RestartCount++
			desired.Analytics.LastRestart = &now
		}
	})
	if err != nil {
		return nil, err
	}
	if restart {
		c.record(ctx, gated.ID, actor.ID, eventlog.LevelInfo, "Instance restarted")
	} else {
		c.record(ctx, gated.ID, actor.ID, eventlog.LevelInfo, "Instance started")
	}
	return running, nil
}

// finishStop invokes the compute-side stop and reconciles the outcome from
// the stopping state, accumulating uptime on success.
func (c *Controller) finishStop(ctx context.Context, actor Actor, gated *Instance) (*Instance, error) {
	rctx, cancel := context.WithTimeout(ctx, c.RuntimeTimeout)
	defer cancel()
	if err := c.Adapter.Stop(rctx, gated.RuntimeID); err != nil {
		c.reconcileError(ctx, gated.ID, StatusStopping, err)
		c.record(ctx, gated.ID, actor.ID, eventlog.LevelError, "Failed to stop instance: "+err.Error())
		return nil, fmt.Errorf("%w: %v", spec.ErrRuntimeUnavailable, err)
	}

	now := time.Now()
	stopped, err := c.transition(ctx, System, gated.ID, []string{StatusStopping}, func(desired *Instance) {
		desired.Status = StatusStopped
		desired.LastError = ""
		if desired.LastStartedAt != nil {
			desired.Analytics.TotalUptimeSeconds += int64(now.Sub(*desired.LastStartedAt).Seconds())
			desired.LastStartedAt = nil
		}
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, gated.ID, actor.ID, eventlog.LevelInfo, "Instance stopped")
	return stopped, nil
}

// transition performs the guarded conditional status write: ownership first,
// then the precondition on the current persisted status, then the mutation.
// A precondition that no longer holds under the row lock comes back as
// spec.ErrConflictingState with no side effect.
func (c *Controller) transition(ctx context.Context, actor Actor, id string, from []string, mutate func(desired *Instance)) (*Instance, error) {
	res := c.Store.LambdaUpdate(ctx, id, func(current, desired *Instance) (bool, error) {
		if current == nil {
			return false, spec.ErrNotFound
		}
		if !actor.mayAct(current.OwnerID) {
			return false, spec.ErrAccessDenied
		}
		allowed := false
		for _, s := range from {
			if current.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, fmt.Errorf("%w: instance is %s", spec.ErrConflictingState, current.Status)
		}
		mutate(desired)
		return true, nil
	})
	if res.Reject != nil {
		return nil, res.Reject
	}
	if res.TxError != nil {
		return nil, extErrors.Wrap(res.TxError, "Cannot update instance status")
	}
	return res.Instance, nil
}

// reconcileError moves the instance from the in-flight status into error,
// recording the underlying cause. An instance is never left in starting or
// stopping after a failed compute-side call.
func (c *Controller) reconcileError(ctx context.Context, id string, from string, cause error) {
	if _, err := c.transition(ctx, System, id, []string{from}, func(desired *Instance) {
		desired.Status = StatusError
		desired.LastError = cause.Error()
	}); err != nil {
		c.Logger.Error("Unable to reconcile instance into error state",
			zap.String("InstanceID", id),
			zap.String("FromStatus", from),
			zap.Error(err),
		)
	}
}

func (c *Controller) record(ctx context.Context, serverID, issuerID, level, message string) {
	if err := c.Recorder.Append(ctx, eventlog.Entry{
		ServerID:  serverID,
		IssuerID:  issuerID,
		Level:     level,
		Message:   message,
		Source:    eventlog.SourceSystem,
		Timestamp: time.Now(),
	}); err != nil {
		c.Logger.Warn("Unable to record lifecycle event",
			zap.String("InstanceID", serverID),
			zap.Error(err),
		)
	}
}

func countJoins(previous StringList, online []string) int {
	if len(online) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(previous))
	for _, name := range previous {
		seen[name] = struct{}{}
	}
	joins := 0
	for _, name := range online {
		if _, ok := seen[name]; !ok {
			joins++
		}
	}
	return joins
}
