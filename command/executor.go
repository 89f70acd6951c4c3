// Package command forwards administrative text commands to running instances
// and records each command/response pair. Execution failures are a property
// of the command, never of the instance's lifecycle, unless the runtime
// signals the instance itself is gone.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"
	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceSource is the read-only slice of the instance store the executor
// needs.
type InstanceSource interface {
	GetByID(ctx context.Context, id string) (*instance.Instance, error)
}

// Store persists commands. *Manager satisfies it.
type Store interface {
	Create(ctx context.Context, cmd *Command) error
	Resolve(ctx context.Context, id string, status string, response string, elapsed time.Duration) error
}

// Escalator is notified when the runtime reports the instance itself is
// unreachable, so the lifecycle controller can re-probe and reconcile.
// *instance.Controller satisfies it.
type Escalator interface {
	MarkUnreachable(ctx context.Context, id string, message string) (*instance.Instance, error)
}

// Recorder is the append-only event sink.
type Recorder interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

const defaultExecuteTimeout = time.Second * 15

type ExecutorOptions struct {
	Instances InstanceSource
	Store     Store
	Adapter   runtime.Adapter
	Escalator Escalator
	Recorder  Recorder
	Logger    *zap.Logger

	ExecuteTimeout time.Duration
}

type Executor struct {
	ExecutorOptions
}

func NewExecutor(option ExecutorOptions) (*Executor, error) {
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
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
	if option.ExecuteTimeout <= 0 {
		option.ExecuteTimeout = defaultExecuteTimeout
	}
	return &Executor{
		ExecutorOptions: option,
	}, nil
}

// Execute dispatches one command against a running instance. The returned
// Command carries the terminal outcome: executed with the response, or
// failed with the error text. A failed command is not an error of Execute
// itself; the error return covers rejections (unknown instance, wrong owner,
// instance not running, denied verb) and persistence problems.
func (e *Executor) Execute(ctx context.Context, actor instance.Actor, serverID string, text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command is invalid")
	}
	verb := strings.ToLower(strings.Fields(text)[0])
	if _, denied := deniedVerbs[strings.TrimPrefix(verb, "/")]; denied {
		return nil, fmt.Errorf("%w: %q", spec.ErrUseDedicatedEndpoint, verb)
	}

	inst, err := e.Instances.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, spec.ErrNotFound
	}
	if !actor.Admin && actor.ID != inst.OwnerID {
		return nil, spec.ErrAccessDenied
	}
	if inst.Status != instance.StatusRunning {
		return nil, fmt.Errorf("%w: instance is %s", spec.ErrConflictingState, inst.Status)
	}

	cmd := &Command{
		ID:          uuid.New().String(),
		ServerID:    serverID,
		IssuerID:    actor.ID,
		CommandText: text,
		Status:      StatusPending,
		Timestamp:   time.Now(),
	}
	if err := e.Store.Create(ctx, cmd); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, e.ExecuteTimeout)
	defer cancel()
	began := time.Now()
	response, execErr := e.Adapter.ExecuteCommand(rctx, inst.RuntimeID, text)
	elapsed := time.Since(began)

	logger := e.Logger.With(
		zap.String("InstanceID", serverID),
		zap.String("CommandID", cmd.ID),
	)

	if execErr != nil {
		if err := e.Store.Resolve(ctx, cmd.ID, StatusFailed, execErr.Error(), elapsed); err != nil {
			logger.Error("Unable to mark command as failed",
				zap.Error(err),
			)
		}
		cmd.Status = StatusFailed
		cmd.Response = execErr.Error()
		e.record(ctx, serverID, actor.ID, eventlog.LevelWarn, fmt.Sprintf("Command %q failed: %v", text, execErr))

		if runtime.IsNotFound(execErr) && e.Escalator != nil {
			if _, escErr := e.Escalator.MarkUnreachable(ctx, serverID, "command dispatch found no backing resource"); escErr != nil && !errors.Is(escErr, spec.ErrConflictingState) {
				logger.Error("Unable to escalate unreachable instance",
					zap.Error(escErr),
				)
			}
		}
	} else {
		if err := e.Store.Resolve(ctx, cmd.ID, StatusExecuted, response, elapsed); err != nil {
			logger.Error("Unable to mark command as executed",
				zap.Error(err),
			)
		}
		cmd.Status = StatusExecuted
		cmd.Response = response
		e.record(ctx, serverID, actor.ID, eventlog.LevelInfo, fmt.Sprintf("Command %q executed", text))
	}
	ms := elapsed.Milliseconds()
	cmd.ExecutionTimeMs = &ms

	return cmd, nil
}

func (e *Executor) record(ctx context.Context, serverID, issuerID, level, message string) {
	if err := e.Recorder.Append(ctx, eventlog.Entry{
		ServerID:  serverID,
		IssuerID:  issuerID,
		Level:     level,
		Message:   message,
		Source:    eventlog.SourceInstance,
		Timestamp: time.Now(),
	}); err != nil {
		e.Logger.Warn("Unable to record command event",
			zap.String("InstanceID", serverID),
			zap.Error(err),
		)
	}
}
