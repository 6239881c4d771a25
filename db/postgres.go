// Package db holds database connection management: the PostgreSQL/GORM
// handle behind the relational repositories, with pooling configured for
// a long-lived service process.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig tunes the connection pool; zero values take the defaults.
type PoolConfig struct {
	MaxIdleConns    int           // default 5
	MaxOpenConns    int           // default 25
	ConnMaxLifetime time.Duration // default 30m
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

// PostgresDB wraps the GORM handle so repositories depend on this package
// rather than on gorm directly.
type PostgresDB struct {
	*gorm.DB
}

// OpenPostgres connects and configures pooling. The URL is a standard
// postgres:// connection string.
func OpenPostgres(url string, cfg PoolConfig) (*PostgresDB, error) {
	cfg = cfg.withDefaults()

	gdb, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresDB{DB: gdb}, nil
}

// Close closes the underlying pool.
func (p *PostgresDB) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
