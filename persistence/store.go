// Package persistence provides persistent storage for terminal interaction
// records: every interaction that reaches a terminal status is handed to a
// Store, which backs the engine's history and export operations.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: for distributed deployments
//   - Database: GORM-backed SQL storage (sqlite, mysql, postgres)
//   - Mongo: document storage for large export workloads
package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongo    StoreType = "mongo"
)

// Record is the terminal snapshot of one interaction. It is written once,
// after the interaction reaches a terminal status, and never updated.
type Record struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	Prompt          string         `json:"prompt"`
	Response        any            `json:"response,omitempty"`
	RetryCount      int            `json:"retry_count,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      time.Time      `json:"resolved_at"`
	ResponseLatency time.Duration  `json:"response_latency"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Filter narrows an export query. Zero-valued fields are ignored.
type Filter struct {
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Type      string    `json:"type,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(rec *Record) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && rec.ResolvedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.ResolvedAt.After(f.Until) {
		return false
	}
	return true
}

// StoreStats summarizes the contents of a store.
type StoreStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Store is the interface every persistence backend implements.
type Store interface {
	// SaveInteraction persists one terminal interaction record.
	SaveInteraction(ctx context.Context, rec *Record) error

	// GetInteractionHistory returns the most recent terminal records for a
	// session, newest first, up to limit (0 means no limit).
	GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*Record, error)

	// ExportInteractionData returns records matching the filter, newest first.
	ExportInteractionData(ctx context.Context, filter Filter) ([]*Record, error)

	// Cleanup removes records resolved earlier than olderThan ago and
	// returns the number removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns statistics about the stored records.
	Stats(ctx context.Context) (*StoreStats, error)

	// Ping reports whether the backend is reachable. Used by readiness
	// probes.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseStoreConfig contains GORM-specific configuration
type DatabaseStoreConfig struct {
	// Driver is the database driver: sqlite, mysql, or postgres
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is the
	// database file path (":memory:" for an in-memory database).
	DSN string `json:"dsn" yaml:"dsn"`

	// MaxOpenConns limits open connections (0 uses the driver default)
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	// URI is the MongoDB connection string
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Collection is the collection name for interaction records
	Collection string `json:"collection" yaml:"collection"`
}

// StoreConfig is the configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type. Empty disables persistence
	// entirely: history and export calls on the engine then fail with a
	// persistence-disabled error.
	Type StoreType `json:"type" yaml:"type"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Database configuration (only used when Type is "database")
	Database DatabaseStoreConfig `json:"database" yaml:"database"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "humanloop:",
		},
		Database: DatabaseStoreConfig{
			Driver: "sqlite",
			DSN:    "./data/humanloop.db",
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "humanloop",
			Collection: "interactions",
		},
	}
}
