package calsync

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers as "sqlite"
)

// Owner identifies whose events a snapshot holds.
type Owner struct {
	TenantID string
	UserID   string
}

// Store persists the confirmed part of the cache between runs. It holds at
// most one owner's snapshot; saving for a different owner replaces it.
type Store interface {
	Load(ctx context.Context, owner Owner) ([]Event, error)
	Save(ctx context.Context, owner Owner, events []Event) error
	Clear(ctx context.Context) error
	Close() error
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadEvents = `SELECT id, title, start_at, end_at FROM events
		WHERE tenant_id = ? AND user_id = ? ORDER BY position`
	sqlInsertEvent = `INSERT INTO events (tenant_id, user_id, id, position, title, start_at, end_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlClearEvents = `DELETE FROM events`
)

// SQLiteStore is the Store backed by a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func OpenSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("calsync: opening database %s: %w", dbPath, err)
	}

	// Sole writer.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("event store opened", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("calsync: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("calsync: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("calsync: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Load returns owner's snapshot in display order. Empty when the store
// holds nothing for owner.
func (s *SQLiteStore) Load(ctx context.Context, owner Owner) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadEvents, owner.TenantID, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("calsync: loading events: %w", err)
	}
	defer rows.Close()

	var out []Event

	for rows.Next() {
		var (
			ev         Event
			start, end int64
		)

		if err := rows.Scan(&ev.ID, &ev.Title, &start, &end); err != nil {
			return nil, fmt.Errorf("calsync: scanning event: %w", err)
		}

		ev.Start = time.Unix(0, start).UTC()
		ev.End = time.Unix(0, end).UTC()
		ev.TenantID = owner.TenantID
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calsync: iterating events: %w", err)
	}

	return out, nil
}

// Save replaces the stored snapshot with events for owner. Pending events
// are skipped.
func (s *SQLiteStore) Save(ctx context.Context, owner Owner, events []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("calsync: beginning transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, sqlClearEvents); err != nil {
		return fmt.Errorf("calsync: clearing events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlInsertEvent)
	if err != nil {
		return fmt.Errorf("calsync: preparing insert: %w", err)
	}
	defer stmt.Close()

	pos := 0

	for _, ev := range events {
		if ev.Pending {
			continue
		}

		if _, err = stmt.ExecContext(ctx, owner.TenantID, owner.UserID, ev.ID, pos,
			ev.Title, ev.Start.UnixNano(), ev.End.UnixNano()); err != nil {
			return fmt.Errorf("calsync: saving event %s: %w", ev.ID, err)
		}

		pos++
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("calsync: committing events: %w", err)
	}

	return nil
}

// Clear removes every stored event.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlClearEvents); err != nil {
		return fmt.Errorf("calsync: clearing events: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
