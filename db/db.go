package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound is handled in application logic (absent instance is a
// typed rejection, not a database failure), so don't forward it to zap.
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if err == gorm.ErrRecordNotFound {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options configures the connection pool. Zero values take the defaults
// suitable for the API process; the sweeper runs with a smaller pool.
type Options struct {
	URI          string
	MaxIdleConns int
	MaxOpenConns int
}

// New returns a handle for interacting with the PostgreSQL database. The
// serializable transactions backing conditional status updates run over
// this pool.
func New(logger *zap.Logger, option Options) (*gorm.DB, error) {
	if option.MaxIdleConns <= 0 {
		option.MaxIdleConns = 1
	}
	if option.MaxOpenConns <= 0 {
		option.MaxOpenConns = 20
	}
	gLogger := zapgorm2.Logger{
		ZapLogger:        logger,
		LogLevel:         gormlogger.Warn,
		SlowThreshold:    time.Second,
		SkipCallerLookup: false,
	}
	db, err := gorm.Open(postgres.Open(option.URI), &gorm.Config{
		Logger: &patchedLogger{
			Logger: gLogger,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(option.MaxIdleConns)
	pool.SetMaxOpenConns(option.MaxOpenConns)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
