package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE values this package classifies.
const (
	stateUniqueViolation      = "23505"
	stateSerializationFailure = "40001"
	stateDeadlockDetected     = "40P01"
	stateLockNotAvailable     = "55P03"
)

// pgErrorInfo extracts the SQLSTATE and constraint name from a Postgres driver
// error anywhere in the chain. ok is false when no driver error is present
// (sqlite in tests, hand-built errors); callers then fall back to message text.
func pgErrorInfo(err error) (state, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// IsUniqueViolation reports whether the provided error is a unique constraint
// violation, optionally on the named constraint. Driver errors are inspected
// structurally; everything else is matched on message text so sqlite-backed
// tests classify the same way.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if state, constraint, ok := pgErrorInfo(err); ok {
		if state != stateUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsSerializationConflict reports whether the error is a transient transaction
// conflict worth one retry: serialization failure, deadlock, or lock timeout.
// The whole unwrap chain is inspected because application wrappers do not
// repeat the driver message.
func IsSerializationConflict(err error) bool {
	if state, _, ok := pgErrorInfo(err); ok {
		return state == stateSerializationFailure ||
			state == stateDeadlockDetected ||
			state == stateLockNotAvailable
	}
	for err != nil {
		msg := err.Error()
		if strings.Contains(msg, "SQLSTATE 40001") ||
			strings.Contains(msg, "SQLSTATE 40P01") ||
			strings.Contains(msg, "SQLSTATE 55P03") ||
			strings.Contains(msg, "could not serialize access") ||
			strings.Contains(msg, "deadlock detected") ||
			strings.Contains(msg, "lock timeout") {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
