// Package runtime defines the boundary to whatever compute layer actually
// runs a server process. The lifecycle controller, command executor and
// activity monitor only ever talk to the Adapter interface; the concrete
// Docker implementation lives in runtime/docker, and tests substitute an
// in-memory fake.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals the backing resource does not exist, as opposed to the
// compute layer being unreachable. Callers branch on this with errors.Is.
var ErrNotFound = errors.New("runtime: instance not found")

// IsNotFound reports whether err means the backing resource is gone rather
// than the runtime being unavailable.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Spec declares what the compute layer needs to materialize an instance.
type Spec struct {
	InstanceID string
	Name       string // container name
	Port       int    // host port the instance is reachable on
	MaxPlayers int
	Mode       string
	Difficulty string
	MemoryMB   int
	Extensions []string
}

func (s Spec) Validate() error {
	if len(s.InstanceID) == 0 {
		return fmt.Errorf("empty InstanceID is invalid")
	}
	if len(s.Name) == 0 {
		return fmt.Errorf("empty Name is invalid")
	}
	if s.Port <= 0 {
		return fmt.Errorf("non-positive Port is invalid")
	}
	return nil
}

// Stats is one liveness/resource observation of a running instance.
type Stats struct {
	PlayerCount   int
	OnlinePlayers []string
	Uptime        time.Duration
	CPUPercent    float64
	MemoryBytes   uint64
}

// Adapter is the capability set the orchestration core requires of a compute
// backend. All calls are fallible; failures other than ErrNotFound are to be
// treated as the runtime being unavailable, not as the instance being gone.
type Adapter interface {
	// CreateInstance materializes the backing resource and returns a
	// reference used by every other call.
	CreateInstance(ctx context.Context, spec Spec) (ref string, err error)
	Start(ctx context.Context, ref string) error
	Stop(ctx context.Context, ref string) error
	Restart(ctx context.Context, ref string) error
	Remove(ctx context.Context, ref string) error
	IsHealthy(ctx context.Context, ref string) (bool, error)
	GetStats(ctx context.Context, ref string) (*Stats, error)
	TailLogs(ctx context.Context, ref string, n int) ([]string, error)
	ExecuteCommand(ctx context.Context, ref string, text string) (string, error)
}
