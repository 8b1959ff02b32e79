package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/diarco/connexa-sync/internal/infrastructure/config"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds one connection pool and provides methods for database operations
type Database struct {
	DB   *gorm.DB
	Name string
}

// PoolSettings sizes the underlying sql.DB pool
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Options tune how a connection is opened
type Options struct {
	Logger      logger.Interface
	PrepareStmt bool
}

// OpenSource connects to the PostgreSQL planning store
func OpenSource(cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	opts.PrepareStmt = true
	return open("source", postgres.Open(cfg.DSN()), PoolSettings{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Minute,
	}, opts)
}

// OpenDestination connects to the SQL Server ERP staging database.
// Statements are built per batch, so prepared statement caching stays off.
func OpenDestination(cfg *config.SQLServerConfig, opts Options) (*Database, error) {
	opts.PrepareStmt = false
	return open("destination", sqlserver.Open(cfg.DSN()), PoolSettings{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Minute,
	}, opts)
}

func open(name string, dialector gorm.Dialector, pool PoolSettings, opts Options) (*Database, error) {
	gormLogger := opts.Logger
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", name, Classify(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, Classify(err))
	}

	return &Database{DB: db, Name: name}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return Classify(sqlDB.PingContext(ctx))
}

// Stats returns database connection pool statistics and an error if unable to retrieve
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// Databases groups the two pools used by a run. Both are opened at
// startup and closed together on every exit path.
type Databases struct {
	Source      *Database
	Destination *Database
}

// Close closes both pools and reports every failure
func (d *Databases) Close() error {
	var err error
	for _, db := range []*Database{d.Source, d.Destination} {
		if db == nil {
			continue
		}
		if cerr := db.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", db.Name, cerr))
		}
	}
	return err
}

// Ping checks both pools
func (d *Databases) Ping(ctx context.Context) error {
	var err error
	for _, db := range []*Database{d.Source, d.Destination} {
		if db == nil {
			continue
		}
		if perr := db.Ping(ctx); perr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", db.Name, perr))
		}
	}
	return err
}
