package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vipm/backend/internal/infrastructure/config"
)

// Database is an open GORM connection plus the pool beneath it
type Database struct {
	DB   *gorm.DB
	pool *sql.DB
}

// NewDatabase opens the configured database with GORM logging silenced
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	return NewDatabaseWithLogger(cfg, gormlogger.Default.LogMode(gormlogger.Silent))
}

// NewDatabaseWithLogger opens the configured database, sizes its pool and
// checks it answers. sqlite is held to a single connection.
func NewDatabaseWithLogger(cfg *config.DatabaseConfig, l gormlogger.Interface) (*Database, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	isSQLite := cfg.Driver == "sqlite"

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 l,
		SkipDefaultTransaction: true,
		PrepareStmt:            !isSQLite,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialector.Name(), err)
	}
	d, err := wrap(db)
	if err != nil {
		return nil, err
	}

	if isSQLite {
		d.pool.SetMaxOpenConns(1)
	} else {
		d.pool.SetMaxOpenConns(cfg.MaxOpenConns)
		d.pool.SetMaxIdleConns(cfg.MaxIdleConns)
		d.pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		d.pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}

	if err := d.pool.Ping(); err != nil {
		_ = d.pool.Close()
		return nil, fmt.Errorf("reach %s database: %w", dialector.Name(), err)
	}
	return d, nil
}

func wrap(db *gorm.DB) (*Database, error) {
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}
	return &Database{DB: db, pool: pool}, nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(cfg.DSN()), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Ping reports whether the database still answers; it backs /health
func (d *Database) Ping(ctx context.Context) error {
	return d.pool.PingContext(ctx)
}

// Stats returns the connection pool counters
func (d *Database) Stats() sql.DBStats {
	return d.pool.Stats()
}

// Transaction runs fn in one transaction bound to ctx, rolling back when
// fn returns an error
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// Close releases every pooled connection
func (d *Database) Close() error {
	return d.pool.Close()
}
