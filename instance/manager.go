package instance

import (
	"context"
	"database/sql"
	"errors"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Instance
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for instances
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Instance{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize instance.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create allocates a port and persists the new record in a single
// transaction. The port scan locks existing rows so two concurrent creates
// cannot observe the same free port before either claims it.
func (m *Manager) Create(ctx context.Context, inst *Instance) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var used []int
		lookupRes := tx.Model(&Instance{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("port asc").
			Pluck("port", &used)
		if lookupRes.Error != nil {
			return lookupRes.Error
		}
		inst.Port = NextFreePort(used, BasePort)
		return tx.Create(inst).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.logger.Error("Unable to create new instance in database",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot create instance")
	}
	return nil
}

func (m *Manager) GetByID(ctx context.Context, id string) (*Instance, error) {
	inst := Instance{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&inst)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get instance by id")
	}

	return &inst, nil
}

// ListOption filters the instances returned by List. Zero values mean "no
// filter".
type ListOption struct {
	OwnerID string
	Status  string
	Limit   int
}

func (m *Manager) List(ctx context.Context, opt ListOption) ([]Instance, error) {
	results := make([]Instance, 0, 1)
	baseQuery := m.db.WithContext(ctx).Order("created_at desc")
	if opt.OwnerID != "" {
		baseQuery = baseQuery.Where("owner_id = ?", opt.OwnerID)
	}
	if opt.Status != "" {
		baseQuery = baseQuery.Where("status = ?", opt.Status)
	}
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// Remove deletes the record, but only if its status is still one of from.
// The returned bool reports whether a row was actually deleted; false means
// the instance transitioned (or disappeared) since the caller last looked.
// Only the lifecycle controller calls this, and only after the compute-side
// teardown was confirmed (or an administrator forced it). The freed port
// becomes reclaimable by the next Create.
func (m *Manager) Remove(ctx context.Context, id string, from []string) (bool, error) {
	result := m.db.WithContext(ctx).
		Where("id = ? AND status IN ?", id, from).
		Delete(&Instance{})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot remove instance")
	}
	return result.RowsAffected > 0, nil
}

// LambdaUpdateFunc decides, under the row lock, whether the update should be
// saved. current and desired are nil if no Instance with the given id exists,
// and the lambda must return shouldSave == false in that case. Returning a
// non-nil reject aborts the update without a database error: that is how
// precondition failures (wrong owner, conflicting state) surface.
type LambdaUpdateFunc func(current *Instance, desired *Instance) (shouldSave bool, reject error)

// LambdaResult carries the three possible outcomes of a LambdaUpdate:
// a rejection decided by the lambda, a transaction failure, or the saved
// new state.
type LambdaResult struct {
	Instance *Instance
	Reject   error
	TxError  error
}

// LambdaUpdate performs a conditional update. The selected Instance is locked
// with FOR UPDATE under a serializable transaction, the lambda inspects the
// current state and mutates the desired copy, and the write happens only if
// the lambda signals shouldSave. This is the sole concurrency gate for status
// transitions: a precondition that no longer holds under the lock turns into
// a Reject, never a partial write.
func (m *Manager) LambdaUpdate(ctx context.Context, id string, lambda LambdaUpdateFunc) LambdaResult {
	var out LambdaResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Instance
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id)
		if lookupRes.Error == nil {
			desired := current
			shouldSave, reject := lambda(&current, &desired)
			if reject != nil {
				out.Reject = reject
				return nil
			}
			if shouldSave {
				if saveRes := tx.Save(&desired); saveRes.Error != nil {
					return saveRes.Error
				}
				out.Instance = &desired
			}
			return nil
		} else if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			_, out.Reject = lambda(nil, nil)
			return nil
		}
		return lookupRes.Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		out.TxError = err
	}
	return out
}
