package database

import (
	"errors"
	"strings"

	apperrors "github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/lib/pq"
)

// PostgreSQL error codes the ledger cares about.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to a constraint whose name contains the fragment.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pgUniqueViolation {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.Contains(pqErr.Constraint, constraint)
}

// IsLockContention reports whether err is a transient locking failure that a
// bounded retry may resolve: lock timeouts, serialization failures, deadlocks.
func IsLockContention(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error worth translating.
func MapPQError(err error) *apperrors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch string(pqErr.Code) {
	case pgUniqueViolation:
		return apperrors.Conflict(uniqueViolationMessage(pqErr))

	case pgForeignKeyViolation:
		return apperrors.Conflict("referenced record does not exist")

	case pgCheckViolation:
		return apperrors.Validation(map[string]string{
			"constraint": pqErr.Constraint,
		})

	default:
		return nil
	}
}

func uniqueViolationMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this number already exists"
	case strings.Contains(constraint, "parent_batch"):
		return "this batch already has a repacked descendant"
	case strings.Contains(constraint, "prefix"):
		return "a sequence counter for this prefix already exists"
	default:
		return "a record with these values already exists"
	}
}
