// Package domain defines the core interfaces and types for Turnstile.
package domain

import (
	"context"
	"time"
)

// RiskStore holds the denylist and seen-card sets, keyed by fingerprint.
// Both sets only grow; nothing in Turnstile removes a member.
type RiskStore interface {
	IsDenylisted(ctx context.Context, fp Fingerprint) (bool, error)

	// AddToDenylist is idempotent: adding an existing member is not an error.
	AddToDenylist(ctx context.Context, fp Fingerprint) error

	HasBeenSeen(ctx context.Context, fp Fingerprint) (bool, error)

	// MarkSeen is idempotent.
	MarkSeen(ctx context.Context, fp Fingerprint) error
}

// JourneyStore persists tap records.
type JourneyStore interface {
	// AppendTap inserts a new record and assigns its Seq.
	AppendTap(ctx context.Context, rec *TapRecord) error

	// ClaimLatestUnmatchedApprovedEntry atomically selects the newest approved
	// entry for fp whose MatchedExitTime is nil (ties broken by Seq, highest
	// wins) and sets its MatchedExitTime to exitTime.
	// Returns nil, nil if no entry is eligible, including when a concurrent
	// claim won the race.
	ClaimLatestUnmatchedApprovedEntry(ctx context.Context, fp Fingerprint, exitTime time.Time) (*TapRecord, error)

	// MarkMatched records the exit time on a claimed entry. It succeeds if the
	// entry is unmatched or already carries exitTime, and never overwrites a
	// different exit time.
	MarkMatched(ctx context.Context, entryID string, exitTime time.Time) error

	// GetTap retrieves a record by ID.
	GetTap(ctx context.Context, id string) (*TapRecord, error)
}

// Repository is a durable store serving both risk and journey state.
type Repository interface {
	RiskStore
	JourneyStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "memory"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"-"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
