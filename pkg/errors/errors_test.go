package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsWrapSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
	}{
		{"not found", NotFound("batch"), ErrNotFound, "NOT_FOUND"},
		{"conflict", Conflict("boom"), ErrConflict, "CONFLICT"},
		{"validation", Validation(map[string]string{"f": "bad"}), ErrValidation, "VALIDATION_ERROR"},
		{"invalid transition", InvalidTransition("received", "delivered"), ErrInvalidTransition, "INVALID_TRANSITION"},
		{"insufficient stock", InsufficientStock("item-1", "120", "100"), ErrInsufficientStock, "INSUFFICIENT_STOCK"},
		{"insufficient available", InsufficientAvailableStock("item-1", "30", "20"), ErrInsufficientAvailableStock, "INSUFFICIENT_AVAILABLE_STOCK"},
		{"duplicate repack", DuplicateRepack("B/2526/0042"), ErrDuplicateRepack, "DUPLICATE_REPACK"},
		{"sequence contention", SequenceContention("B", 5), ErrSequenceContention, "SEQUENCE_CONTENTION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))

			var appErr *AppError
			require.True(t, As(tt.err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("confirm reservation: %w", InsufficientStock("item-1", "50", "10"))
	assert.True(t, Is(err, ErrInsufficientStock))

	var appErr *AppError
	require.True(t, As(err, &appErr))
	assert.Equal(t, "50", appErr.Details["requested"])
	assert.Equal(t, "10", appErr.Details["available"])
}

func TestInvalidTransitionDetails(t *testing.T) {
	err := InvalidTransition("received", "in_packing")
	assert.Equal(t, "received", err.Details["current"])
	assert.Equal(t, "in_packing", err.Details["requested"])
	assert.Contains(t, err.Error(), "received")
	assert.Contains(t, err.Error(), "in_packing")
}
