package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ashiqtasdid/pegasus-interface-sub000/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions configures the event log Manager. Producer is optional:
// when set, every appended entry is also published for external consumers.
type ManagerOptions struct {
	DB       *gorm.DB
	Producer broker.Producer
	Logger   *zap.Logger
}

// Manager is the append-only writer and reader for lifecycle/command events.
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Entry{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize eventlog.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Append persists the entry and, best-effort, publishes it. A publish
// failure never fails the append: the database row is the source of truth.
func (m *Manager) Append(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	result := m.DB.WithContext(ctx).Create(&entry)
	if result.Error != nil {
		m.Logger.Error("Unable to append log entry",
			zap.String("ServerID", entry.ServerID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot append log entry")
	}
	if m.Producer != nil {
		if err := m.Producer.PublishEvent(broker.Event{
			ServerID:  entry.ServerID,
			IssuerID:  entry.IssuerID,
			Level:     entry.Level,
			Message:   entry.Message,
			Source:    entry.Source,
			Timestamp: entry.Timestamp,
		}); err != nil {
			m.Logger.Warn("Unable to publish log entry",
				zap.String("ServerID", entry.ServerID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ListOption filters the entries returned by List.
type ListOption struct {
	ServerID string
	Limit    int
}

// List returns the most recent entries for an instance, newest first.
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Entry, error) {
	if opt.ServerID == "" {
		return nil, fmt.Errorf("empty ServerID is invalid")
	}
	limit := opt.Limit
	if limit <= 0 {
		limit = 100
	}
	results := make([]Entry, 0, limit)
	result := m.DB.WithContext(ctx).
		Where("server_id = ?", opt.ServerID).
		Order("timestamp desc").
		Limit(limit).
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}
