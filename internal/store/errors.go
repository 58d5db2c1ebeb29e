package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
)

// UniqueViolationError is returned when a write collides with an existing
// natural key.
type UniqueViolationError struct {
	Table   string
	Columns []string
	err     error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("duplicate %s entry in %s", strings.Join(e.Columns, ","), e.Table)
}

func (e *UniqueViolationError) Unwrap() error { return e.err }

// ForeignKeyViolationError is returned when a row references a missing entity.
type ForeignKeyViolationError struct {
	Table     string
	Reference string
	err       error
}

func (e *ForeignKeyViolationError) Error() string {
	return fmt.Sprintf("foreign key violation on %s: %s not found", e.Table, e.Reference)
}

func (e *ForeignKeyViolationError) Unwrap() error { return e.err }

// UnknownError wraps any other storage failure.
type UnknownError struct {
	Table string
	Raw   error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("storage error on %s: %v", e.Table, e.Raw)
}

func (e *UnknownError) Unwrap() error { return e.Raw }

// writeError classifies a write failure on table. columns name the natural
// key guarded by the table's unique constraint and reference the entity a
// foreign key points to. Drivers translate their codes to gorm errors; the
// message checks cover sqlite builds whose translator misses a code.
func writeError(err error, table, reference string, columns ...string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.As(err, &pgErr) && pgErr.Code == "23505",
		strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return &UniqueViolationError{Table: table, Columns: columns, err: err}
	case errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.As(err, &pgErr) && pgErr.Code == "23503",
		strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return &ForeignKeyViolationError{Table: table, Reference: reference, err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	default:
		return &UnknownError{Table: table, Raw: err}
	}
}
