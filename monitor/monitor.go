// Package monitor runs the recurring control loop over running instances:
// refresh liveness signals, cache snapshots, stop instances idle past their
// policy threshold, and (on demand) sweep unreachable instances into error.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	"github.com/ashiqtasdid/pegasus-interface-sub000/liveness"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"
	"github.com/ashiqtasdid/pegasus-interface-sub000/spec"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InstanceSource lists instances by status. *instance.Manager satisfies it.
type InstanceSource interface {
	List(ctx context.Context, opt instance.ListOption) ([]instance.Instance, error)
}

// Lifecycle is the slice of the instance controller the monitor drives.
// Stopping an instance that already transitioned comes back as
// ErrConflictingState, which the sweep treats as a no-op, not an error.
type Lifecycle interface {
	RefreshLiveness(ctx context.Context, id string, stats *runtime.Stats, now time.Time) (*instance.Instance, error)
	Stop(ctx context.Context, actor instance.Actor, id string) (*instance.Instance, error)
	MarkUnreachable(ctx context.Context, id string, message string) (*instance.Instance, error)
}

// Recorder is the append-only event sink.
type Recorder interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

// SnapshotCache receives one liveness snapshot per successful probe.
// *liveness.Cache satisfies it.
type SnapshotCache interface {
	Put(snap liveness.Snapshot) error
}

const (
	defaultInterval     = time.Second * 30
	defaultProbeTimeout = time.Second * 10
	defaultConcurrency  = 8
)

type Options struct {
	Instances InstanceSource
	Lifecycle Lifecycle
	Adapter   runtime.Adapter
	Recorder  Recorder
	Cache     SnapshotCache // optional
	Logger    *zap.Logger

	Interval     time.Duration
	SweepTimeout time.Duration    // overall deadline for one sweep
	ProbeTimeout time.Duration    // per-instance probe bound
	Concurrency  int              // probes in flight within a sweep
	Now          func() time.Time // injectable clock
}

type Monitor struct {
	Options
}

func NewMonitor(option Options) (*Monitor, error) {
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
	if option.Lifecycle == nil {
		return nil, fmt.Errorf("nil Lifecycle is invalid")
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
	if option.Interval <= 0 {
		option.Interval = defaultInterval
	}
	if option.SweepTimeout <= 0 {
		option.SweepTimeout = option.Interval
	}
	if option.ProbeTimeout <= 0 {
		option.ProbeTimeout = defaultProbeTimeout
	}
	if option.Concurrency <= 0 {
		option.Concurrency = defaultConcurrency
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Monitor{
		Options: option,
	}, nil
}

// Run executes sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Logger.Info("Activity monitor started",
		zap.Duration("Interval", m.Interval),
	)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Logger.Info("Activity monitor stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.Logger.Error("Sweep failed",
					zap.Error(err),
				)
			}
		}
	}
}

// Sweep performs one pass over all running instances. Per-instance work runs
// concurrently with a bounded fan-out under an overall deadline, so one hung
// probe cannot stall the rest of the sweep. Probe failures are logged and
// skipped; the health-check pass is the mechanism that escalates them.
func (m *Monitor) Sweep(ctx context.Context) error {
	swctx, cancel := context.WithTimeout(ctx, m.SweepTimeout)
	defer cancel()

	running, err := m.Instances.List(swctx, instance.ListOption{Status: instance.StatusRunning})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(swctx)
	g.SetLimit(m.Concurrency)
	for i := range running {
		inst := running[i]
		g.Go(func() error {
			m.sweepOne(gctx, &inst)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) sweepOne(ctx context.Context, inst *instance.Instance) {
	logger := m.Logger.With(
		zap.String("InstanceID", inst.ID),
	)

	now := m.Now()
	pctx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	stats, err := m.Adapter.GetStats(pctx, inst.RuntimeID)
	cancel()
	if err != nil {
		logger.Warn("Liveness probe failed",
			zap.Error(err),
		)
		return
	}

	updated, err := m.Lifecycle.RefreshLiveness(ctx, inst.ID, stats, now)
	if err != nil {
		if errors.Is(err, spec.ErrConflictingState) || errors.Is(err, spec.ErrNotFound) {
			// instance transitioned under us; nothing to do
			return
		}
		logger.Error("Unable to refresh liveness",
			zap.Error(err),
		)
		return
	}

	if m.Cache != nil {
		if err := m.Cache.Put(liveness.Snapshot{
			ServerID:      updated.ID,
			PlayerCount:   stats.PlayerCount,
			OnlinePlayers: stats.OnlinePlayers,
			UptimeSeconds: int64(stats.Uptime.Seconds()),
			CPUPercent:    stats.CPUPercent,
			MemoryBytes:   stats.MemoryBytes,
			ObservedAt:    now,
		}); err != nil {
			logger.Warn("Unable to cache liveness snapshot",
				zap.Error(err),
			)
		}
	}

	if m.shouldShutdown(updated, now) {
		m.shutdownIdle(ctx, updated, now, logger)
	}
}

// shouldShutdown applies the per-instance auto-shutdown policy: enabled,
// nobody online, and idle at least the configured number of minutes. An
// instance that never saw a player is measured from its last start.
func (m *Monitor) shouldShutdown(inst *instance.Instance, now time.Time) bool {
	if !inst.AutoShutdown || inst.PlayerCount > 0 || inst.InactiveShutdownMinutes <= 0 {
		return false
	}
	baseline := inst.LastPlayerActivity
	if baseline == nil {
		baseline = inst.LastStartedAt
	}
	if baseline == nil {
		return false
	}
	return now.Sub(*baseline) >= time.Duration(inst.InactiveShutdownMinutes)*time.Minute
}

func (m *Monitor) shutdownIdle(ctx context.Context, inst *instance.Instance, now time.Time, logger *zap.Logger) {
	if _, err := m.Lifecycle.Stop(ctx, instance.System, inst.ID); err != nil {
		if errors.Is(err, spec.ErrConflictingState) || errors.Is(err, spec.ErrNotFound) {
			// someone got there first; idempotent no-op
			logger.Debug("Idle shutdown skipped, instance already transitioned")
			return
		}
		logger.Error("Unable to stop idle instance",
			zap.Error(err),
		)
		return
	}
	if err := m.Recorder.Append(ctx, eventlog.Entry{
		ServerID:  inst.ID,
		IssuerID:  eventlog.IssuerSystem,
		Level:     eventlog.LevelInfo,
		Message:   fmt.Sprintf("Automatically stopped after %d minutes without players (reason: inactive)", inst.InactiveShutdownMinutes),
		Source:    eventlog.SourceSystem,
		Timestamp: now,
	}); err != nil {
		logger.Warn("Unable to record idle shutdown",
			zap.Error(err),
		)
	}
	logger.Info("Stopped idle instance",
		zap.Int("InactiveShutdownMinutes", inst.InactiveShutdownMinutes),
	)
}

// HealthCheck probes every running instance's reachability independently of
// player activity and reconciles unreachable ones into error. Triggered by
// an administrative caller, not by the sweep timer.
func (m *Monitor) HealthCheck(ctx context.Context) error {
	running, err := m.Instances.List(ctx, instance.ListOption{Status: instance.StatusRunning})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Concurrency)
	for i := range running {
		inst := running[i]
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, m.ProbeTimeout)
			healthy, probeErr := m.Adapter.IsHealthy(pctx, inst.RuntimeID)
			cancel()
			if probeErr == nil && healthy {
				return nil
			}
			message := "health probe reported not running"
			if probeErr != nil {
				message = "health probe failed: " + probeErr.Error()
			}
			if _, err := m.Lifecycle.MarkUnreachable(gctx, inst.ID, message); err != nil && !errors.Is(err, spec.ErrConflictingState) && !errors.Is(err, spec.ErrNotFound) {
				m.Logger.Error("Unable to mark instance unreachable",
					zap.String("InstanceID", inst.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}
