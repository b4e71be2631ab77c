package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

var errNotFound = errors.New("row not found")

// wrapError classifies pgx errors. Errors that already carry repository semantics and
// errors produced by caller mutations are returned untouched.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}

	e := &Error{op: op, err: err}
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, errNotFound):
		e.notFound = true
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			// unique_violation, serialization_failure, deadlock_detected
			e.conflict = true
		case "57P01", "57P03", "53300":
			// admin_shutdown, cannot_connect_now, too_many_connections
			e.unavailable = true
		}
	case errors.As(err, &connErr), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		e.unavailable = true
	}
	return e
}

func notFound(op, id string) error {
	return &Error{op: op, err: fmt.Errorf("%w: %s", errNotFound, id), notFound: true}
}
