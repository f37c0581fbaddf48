package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlitedriver "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrNotFound marks lookups and guarded updates that matched no row.
var ErrNotFound = errors.New("sqlite: row not found")

// Error implements repositories.RepositoryError for the SQLite store.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	e := &Error{op: op, err: err}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
		e.notFound = true
		return e
	}

	var driverErr *sqlitedriver.Error
	if errors.As(err, &driverErr) {
		switch driverErr.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
			e.conflict = true
		case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
			e.notFound = true
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED, sqlitelib.SQLITE_IOERR:
			e.unavailable = true
		}
	}
	return e
}

func notFound(op, id string) error {
	return &Error{op: op, err: fmt.Errorf("%w: %s", ErrNotFound, id), notFound: true}
}
