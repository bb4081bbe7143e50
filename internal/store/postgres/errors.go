package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"anthill/pkg/anthill"
)

// mapError translates pgx and pgconn failures onto the shared sentinels.
//
// Callers branch on the sentinel, never on SQLSTATE codes, so this is the
// only place in the repo that knows PostgreSQL error classes.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	// Context errors pass through unchanged.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, anthill.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", operation, anthill.ErrDuplicateRecord)
		case strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%s: %w", operation, anthill.ErrConstraintViolation)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01":
			// Connection exceptions and admin shutdown.
			return fmt.Errorf("%s: %w", operation, anthill.ErrStoreUnavailable)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}

	// Anything else reaching this point is a transport failure: dial errors,
	// closed pools, broken connections.
	return fmt.Errorf("%s: %v: %w", operation, err, anthill.ErrStoreUnavailable)
}
