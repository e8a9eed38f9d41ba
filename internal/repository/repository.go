// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/turnstile/internal/domain"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyMatched = errors.New("entry already matched to a different exit")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const tapColumns = `seq, id, fingerprint, terminal_id, cryptogram, tap_time_ms,
		   direction, approved, matched_exit_time_ms, created_at_ms`

// AppendTap inserts a tap record and assigns its Seq.
func (r *SQLRepository) AppendTap(ctx context.Context, rec *domain.TapRecord) error {
	if rec == nil || rec.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	approved := 0
	if rec.Approved {
		approved = 1
	}

	var matched any
	if rec.MatchedExitTime != nil {
		matched = rec.MatchedExitTime.UnixMilli()
	}

	query := `
		INSERT INTO tap_records (
			id, fingerprint, terminal_id, cryptogram, tap_time_ms,
			direction, approved, matched_exit_time_ms, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`

	return r.db.QueryRowContext(ctx, r.rebind(query),
		rec.ID, string(rec.Fingerprint), rec.TerminalID, rec.Cryptogram,
		rec.Timestamp.UnixMilli(), string(rec.Direction), approved,
		matched, rec.CreatedAt.UnixMilli(),
	).Scan(&rec.Seq)
}

// ClaimLatestUnmatchedApprovedEntry selects and marks the newest open entry
// in one UPDATE. A competing claim either blocks on the row and then fails
// the matched_exit_time_ms IS NULL guard, or (PostgreSQL) skips the locked
// row and takes an older one.
func (r *SQLRepository) ClaimLatestUnmatchedApprovedEntry(ctx context.Context, fp domain.Fingerprint, exitTime time.Time) (*domain.TapRecord, error) {
	if fp == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	lock := ""
	if r.driver == "postgres" {
		lock = "FOR UPDATE SKIP LOCKED"
	}

	query := `
		UPDATE tap_records
		SET matched_exit_time_ms = ?
		WHERE seq = (
			SELECT seq FROM tap_records
			WHERE fingerprint = ?
			  AND direction = 'entry'
			  AND approved = 1
			  AND matched_exit_time_ms IS NULL
			ORDER BY tap_time_ms DESC, seq DESC
			LIMIT 1
			` + lock + `
		)
		AND matched_exit_time_ms IS NULL
		RETURNING ` + tapColumns

	rec, err := scanTapRecord(r.db.QueryRowContext(ctx, r.rebind(query), exitTime.UnixMilli(), string(fp)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkMatched sets the exit time on an entry unless a different exit already
// closed it.
func (r *SQLRepository) MarkMatched(ctx context.Context, entryID string, exitTime time.Time) error {
	if entryID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}

	exitMs := exitTime.UnixMilli()

	query := `
		UPDATE tap_records
		SET matched_exit_time_ms = ?
		WHERE id = ?
		  AND direction = 'entry'
		  AND (matched_exit_time_ms IS NULL OR matched_exit_time_ms = ?)
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), exitMs, entryID, exitMs)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.GetTap(ctx, entryID); err != nil {
		return err
	}
	return ErrAlreadyMatched
}

// GetTap retrieves a tap record by ID.
func (r *SQLRepository) GetTap(ctx context.Context, id string) (*domain.TapRecord, error) {
	query := `SELECT ` + tapColumns + ` FROM tap_records WHERE id = ?`

	rec, err := scanTapRecord(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// IsDenylisted reports denylist membership.
func (r *SQLRepository) IsDenylisted(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM denylist WHERE fingerprint = ?`, fp)
}

// AddToDenylist adds fp to the denylist. Duplicate adds are no-ops.
func (r *SQLRepository) AddToDenylist(ctx context.Context, fp domain.Fingerprint) error {
	return r.insertMember(ctx, `
		INSERT INTO denylist (fingerprint, added_at_ms) VALUES (?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
	`, fp)
}

// HasBeenSeen reports seen-card membership.
func (r *SQLRepository) HasBeenSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM seen_cards WHERE fingerprint = ?`, fp)
}

// MarkSeen records fp as seen. Duplicate marks are no-ops.
func (r *SQLRepository) MarkSeen(ctx context.Context, fp domain.Fingerprint) error {
	return r.insertMember(ctx, `
		INSERT INTO seen_cards (fingerprint, first_seen_at_ms) VALUES (?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
	`, fp)
}

func (r *SQLRepository) exists(ctx context.Context, query string, fp domain.Fingerprint) (bool, error) {
	if fp == "" {
		return false, fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(query), string(fp)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLRepository) insertMember(ctx context.Context, query string, fp domain.Fingerprint) error {
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query), string(fp), time.Now().UTC().UnixMilli())
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for diagnostics and tests.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTapRecord(row rowScanner) (*domain.TapRecord, error) {
	var (
		rec        domain.TapRecord
		fp         string
		direction  string
		cryptogram sql.NullString
		tapMs      int64
		approved   int
		matchedMs  sql.NullInt64
		createdMs  int64
	)

	if err := row.Scan(
		&rec.Seq, &rec.ID, &fp, &rec.TerminalID, &cryptogram, &tapMs,
		&direction, &approved, &matchedMs, &createdMs,
	); err != nil {
		return nil, err
	}

	rec.Fingerprint = domain.Fingerprint(fp)
	rec.Direction = domain.Direction(direction)
	rec.Cryptogram = cryptogram.String
	rec.Timestamp = time.UnixMilli(tapMs).UTC()
	rec.Approved = approved == 1
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	if matchedMs.Valid {
		t := time.UnixMilli(matchedMs.Int64).UTC()
		rec.MatchedExitTime = &t
	}

	return &rec, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
