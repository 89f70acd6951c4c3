package instance

import (
	"time"

	"github.com/google/uuid"
)

// namespace for deriving instance IDs. Changing this invalidates every
// existing instance ID, so don't.
var idNamespace = uuid.MustParse("8f6f3b2a-1d4e-4c6b-9a7e-2f0d5c8b4e91")

// Instance describes one provisioned game server and its declared
// configuration, current lifecycle status, and derived analytics.
type Instance struct {
	ID        string `json:"id" gorm:"primaryKey"` // Derived from OwnerID + Name, also the container name suffix
	OwnerID   string `json:"ownerId" gorm:"index"` // The user that owns this instance; checked on every action
	Name      string `json:"name"`                 // Display name chosen at creation
	RuntimeID string `json:"-"`                    // Reference to the backing compute resource (container ID)

	Status string `json:"status"` // See const.go for the legal transitions
	Port   int    `json:"port"`   // Host port; unique among non-deleted instances

	// Declared configuration. Name/MaxPlayers/Mode/Difficulty and the
	// auto-shutdown policy may be patched while the instance is not mid
	// transition; MemoryMB and Extensions are fixed at creation.
	MaxPlayers int        `json:"maxPlayers"`
	Mode       string     `json:"mode"`
	Difficulty string     `json:"difficulty"`
	MemoryMB   int        `json:"memoryMb"`
	Extensions StringList `json:"extensions" gorm:"type:jsonb"`

	// Last observed liveness snapshot, refreshed by the activity monitor
	// and by owner-initiated pushes.
	PlayerCount   int        `json:"playerCount"`
	OnlinePlayers StringList `json:"onlinePlayers" gorm:"type:jsonb"`

	LastSeen           *time.Time `json:"lastSeen"`
	LastPlayerActivity *time.Time `json:"lastPlayerActivity"` // Only advances while PlayerCount > 0
	LastStartedAt      *time.Time `json:"-"`                  // For uptime accounting

	AutoShutdown            bool `json:"autoShutdown"`
	InactiveShutdownMinutes int  `json:"inactiveShutdownMinutes"`

	LastError string `json:"error,omitempty"` // Cleared on the next successful transition

	Analytics Analytics `json:"analytics" gorm:"embedded;embeddedPrefix:analytics_"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Analytics holds the monotonic per-instance counters. Normal operations
// only ever increase these; only an explicit administrative reset zeroes them.
type Analytics struct {
	TotalPlayers       int64      `json:"totalPlayers"`
	PeakPlayerCount    int        `json:"peakPlayerCount"`
	TotalUptimeSeconds int64      `json:"totalUptimeSeconds"`
	RestartCount       int64      `json:"restartCount"`
	LastRestart        *time.Time `json:"lastRestart"`
}

// DeriveID returns the deterministic instance ID for an owner/name pair.
// The same owner asking for the same name always maps to the same ID,
// which makes duplicate creation a conflict instead of a dangling second
// record.
func DeriveID(ownerID, name string) string {
	return uuid.NewSHA1(idNamespace, []byte(ownerID+"/"+name)).String()
}

// ContainerName returns the name the compute backend uses for this
// instance's container.
func (i *Instance) ContainerName() string {
	return "pegasus-server-" + i.ID
}

// Transitioning reports whether the instance is mid-transition, during
// which config patches are rejected.
func (i *Instance) Transitioning() bool {
	switch i.Status {
	case StatusCreating, StatusStarting, StatusStopping:
		return true
	}
	return false
}
