package storage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
)

// IsConflict matches the exclusion-constraint violation raised when a write
// would overlap an active appointment for the same provider.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classify maps driver errors onto the lifecycle sentinels callers branch
// on. Anything retryable (timeouts, dropped connections, postgres class 08)
// becomes ErrTransient; everything else passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", lifecycle.ErrNotFound, err)
	}
	if IsConflict(err) {
		return fmt.Errorf("%w: %v", lifecycle.ErrSlotUnavailable, err)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", lifecycle.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. 40001/40P01: serialization
		// failure and deadlock, safe to retry.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return true
		}
	}
	return pgconn.SafeToRetry(err)
}
