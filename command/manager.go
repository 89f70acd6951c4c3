package command

import (
	"context"
	"errors"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Command
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for commands
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Command{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize command.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

func (m *Manager) Create(ctx context.Context, cmd *Command) error {
	result := m.db.WithContext(ctx).Create(cmd)
	if result.Error != nil {
		m.logger.Error("Unable to create new command in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create command")
	}
	return nil
}

func (m *Manager) GetByID(ctx context.Context, id string) (*Command, error) {
	cmd := Command{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&cmd)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get command by id")
	}

	return &cmd, nil
}

// Resolve writes the terminal status of a pending command. The conditional
// on the current status makes the terminal write happen at most once.
func (m *Manager) Resolve(ctx context.Context, id string, status string, response string, elapsed time.Duration) error {
	now := time.Now()
	ms := elapsed.Milliseconds()
	result := m.db.WithContext(ctx).
		Model(&Command{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":            status,
			"response":          response,
			"execution_time_ms": ms,
			"resolved_at":       now,
		})
	if result.Error != nil {
		m.logger.Error("Unable to resolve command",
			zap.String("CommandID", id),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot resolve command")
	}
	if result.RowsAffected == 0 {
		return extErrors.Errorf("command %s is not pending", id)
	}
	return nil
}

// History returns the most recent commands issued against an instance,
// newest first.
func (m *Manager) History(ctx context.Context, serverID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	results := make([]Command, 0, limit)
	result := m.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("timestamp desc").
		Limit(limit).
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}
