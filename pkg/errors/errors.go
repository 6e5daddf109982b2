package errors

import (
	"errors"
	"fmt"
)

// Standard error types
var (
	ErrNotFound                   = errors.New("resource not found")
	ErrConflict                   = errors.New("resource conflict")
	ErrValidation                 = errors.New("validation error")
	ErrInternal                   = errors.New("internal error")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	ErrDuplicateRepack            = errors.New("batch already repacked")
	ErrSequenceContention         = errors.New("sequence counter contention")
)

// AppError represents an application error with context
type AppError struct {
	Err     error             `json:"-"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string) *AppError {
	return &AppError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    "VALIDATION_ERROR",
		Message: "validation failed",
		Details: details,
	}
}

// InvalidTransition is returned when a batch status change is not the direct
// forward successor of the current status.
func InvalidTransition(current, requested string) *AppError {
	return &AppError{
		Err:     ErrInvalidTransition,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("cannot transition batch from %s to %s", current, requested),
		Details: map[string]string{
			"current":   current,
			"requested": requested,
		},
	}
}

// InsufficientStock is the recoverable business condition for a FIFO deduction
// that exceeds the item's eligible remaining quantity.
func InsufficientStock(itemID, requested, available string) *AppError {
	return &AppError{
		Err:     ErrInsufficientStock,
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("item %s has %s remaining, %s requested", itemID, available, requested),
		Details: map[string]string{
			"item_id":   itemID,
			"requested": requested,
			"available": available,
		},
	}
}

// InsufficientAvailableStock is the reservation-time analogue of
// InsufficientStock; available already subtracts pending reservations.
func InsufficientAvailableStock(itemID, requested, available string) *AppError {
	return &AppError{
		Err:     ErrInsufficientAvailableStock,
		Code:    "INSUFFICIENT_AVAILABLE_STOCK",
		Message: fmt.Sprintf("item %s has %s available, %s requested", itemID, available, requested),
		Details: map[string]string{
			"item_id":   itemID,
			"requested": requested,
			"available": available,
		},
	}
}

func DuplicateRepack(batchNumber string) *AppError {
	return &AppError{
		Err:     ErrDuplicateRepack,
		Code:    "DUPLICATE_REPACK",
		Message: fmt.Sprintf("batch %s already has a repacked descendant", batchNumber),
	}
}

// SequenceContention is returned after the sequence generator exhausts its
// internal retries on the counter row lock. Transient; callers may retry.
func SequenceContention(prefix string, attempts int) *AppError {
	return &AppError{
		Err:     ErrSequenceContention,
		Code:    "SEQUENCE_CONTENTION",
		Message: fmt.Sprintf("could not acquire sequence counter for prefix %s after %d attempts", prefix, attempts),
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
