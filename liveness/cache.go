// Package liveness caches the most recent probe result per instance so the
// user-facing live-status endpoint reads a cheap snapshot instead of probing
// the compute layer inline.
package liveness

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
)

const keyPrefix = "pegasus:live:"

// Snapshot is one cached liveness observation.
type Snapshot struct {
	ServerID      string    `json:"serverId"`
	PlayerCount   int       `json:"playerCount"`
	OnlinePlayers []string  `json:"onlinePlayers"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryBytes   uint64    `json:"memoryBytes"`
	ObservedAt    time.Time `json:"observedAt"`
}

// Cache stores snapshots in Redis with a TTL, so a stale entry ages out on
// its own once the monitor stops refreshing it.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCache(client redis.UniversalClient, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redis client is invalid")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *Cache) Put(snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode snapshot")
	}
	if err := c.client.Set(keyPrefix+snap.ServerID, body, c.ttl).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot cache snapshot")
	}
	return nil
}

// Get returns the cached snapshot, or nil if none is fresh.
func (c *Cache) Get(serverID string) (*Snapshot, error) {
	body, err := c.client.Get(keyPrefix + serverID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot read snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode snapshot")
	}
	return &snap, nil
}
