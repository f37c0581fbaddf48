// Package sqlite implements the repositories on a local SQLite database. It backs local
// development and the repository contract tests; production runs on Firestore.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/waypoint-immigration/portal/internal/repositories"
)

// Store owns the database handle and hands out repositories bound to it.
type Store struct {
	db *sqlx.DB

	cases         *CaseRepository
	payments      *PaymentRepository
	notifications *NotificationRepository
	profiles      *ProfileRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open opens (or creates) the database at path, enables WAL and foreign keys, and applies
// outstanding migrations. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite serialises writers anyway; a single connection also keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{
		db:            db,
		cases:         &CaseRepository{db: db},
		payments:      &PaymentRepository{db: db},
		notifications: &NotificationRepository{db: db},
		profiles:      &ProfileRepository{db: db},
	}, nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// DB exposes the handle for stores that share the database, such as idempotency keys.
func (s *Store) DB() *sqlx.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrapError("ping", s.db.PingContext(ctx))
}

func (s *Store) Cases() repositories.CaseRepository { return s.cases }

func (s *Store) Payments() repositories.PaymentRepository { return s.payments }

func (s *Store) Notifications() repositories.NotificationRepository { return s.notifications }

func (s *Store) Profiles() repositories.ProfileRepository { return s.profiles }

// CaseStore exposes the concrete case repository, including its write helpers.
func (s *Store) CaseStore() *CaseRepository { return s.cases }

// ProfileStore exposes the concrete profile repository, including its write helpers.
func (s *Store) ProfileStore() *ProfileRepository { return s.profiles }

func migrate(ctx context.Context, db *sqlx.DB) error {
	current := 0

	var tables int
	err := db.GetContext(ctx, &tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}
