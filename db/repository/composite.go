package repository

import (
	"context"
	"fmt"
	"time"

	"ironclad.dev/dpm/auditlog"
	"ironclad.dev/dpm/config"
	"ironclad.dev/dpm/db"
	"ironclad.dev/dpm/schedulecache"
)

// Composite bundles the specialized stores one service instance runs on.
// Each backend is optional: with no PostgreSQL URL the relational store
// is in-memory, with no Redis URL the schedule cache is in-process, with
// no Neo4j URI the graph repository is nil and the write path falls back
// to the in-memory network cycle check, and with no bolt path the audit
// log stays in memory. That makes a single binary usable from unit tests
// through full deployments without code changes.
type Composite struct {
	Store    Store
	Graph    DependencyGraphRepository
	Cache    *schedulecache.Cache
	AuditLog auditlog.Recorder

	pg      *db.PostgresDB
	redis   *schedulecache.RedisStore
	neo     *Neo4jGraph
	boltLog *auditlog.BoltRecorder
}

// Config selects the backends. Empty fields select the in-process
// fallback.
type Config struct {
	PostgresURL   string
	RedisURL      string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	AuditLogPath  string
	CacheTTL      string // Go duration string, empty = no expiry
}

// ConfigFromEnv reads the standard DPM_-prefixed environment variables.
func ConfigFromEnv() Config {
	env := config.NewEnvConfig("DPM")
	return Config{
		PostgresURL:   env.GetString("POSTGRES_URL", ""),
		RedisURL:      env.GetString("REDIS_URL", ""),
		Neo4jURI:      env.GetString("NEO4J_URI", ""),
		Neo4jUser:     env.GetString("NEO4J_USER", ""),
		Neo4jPassword: env.GetString("NEO4J_PASSWORD", ""),
		AuditLogPath:  env.GetString("AUDIT_LOG_PATH", ""),
		CacheTTL:      env.GetString("CACHE_TTL", ""),
	}
}

func parseTTL(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// NewComposite wires the configured backends, failing fast on any that
// are configured but unreachable.
func NewComposite(cfg Config) (*Composite, error) {
	c := &Composite{}

	if cfg.PostgresURL != "" {
		pg, err := db.OpenPostgres(cfg.PostgresURL, db.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store := NewPostgres(pg)
		if err := store.Migrate(); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres migration: %w", err)
		}
		c.pg = pg
		c.Store = store
	} else {
		c.Store = NewMemory()
	}

	if cfg.RedisURL != "" {
		rs, err := schedulecache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.redis = rs
		c.Cache = schedulecache.New(rs, parseTTL(cfg.CacheTTL))
	} else {
		c.Cache = schedulecache.New(schedulecache.NewMemoryStore(), parseTTL(cfg.CacheTTL))
	}

	if cfg.Neo4jURI != "" {
		neo, err := NewNeo4jGraph(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		c.neo = neo
		c.Graph = neo
	}

	if cfg.AuditLogPath != "" {
		bl, err := auditlog.OpenBolt(cfg.AuditLogPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		c.boltLog = bl
		c.AuditLog = bl
	} else {
		c.AuditLog = auditlog.NewMemory()
	}

	return c, nil
}

// Close releases every connected backend; safe on partially-built
// composites.
func (c *Composite) Close() error {
	var firstErr error
	if c.boltLog != nil {
		if err := c.boltLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.neo != nil {
		if err := c.neo.Close(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.pg != nil {
		if err := c.pg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
