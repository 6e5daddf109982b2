package repository

import (
	"context"
	"testing"

	"github.com/agriflow/agriflow-backend/pkg/database"
	apperrors "github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReservationTestRepo(t *testing.T) (*ReservationRepository, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	return NewReservationRepository(database.Wrap(mockDB.DB, logger.Nop())), mockDB
}

func TestReservationStatusTerminal(t *testing.T) {
	assert.False(t, ReservationPending.Terminal())
	assert.True(t, ReservationConfirmed.Terminal())
	assert.True(t, ReservationCancelled.Terminal())
	assert.True(t, ReservationExpired.Terminal())
	assert.True(t, ReservationFailed.Terminal())
}

func TestReservationUpdateStatusConflictOnZeroRows(t *testing.T) {
	repo, mockDB := newReservationTestRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectExec("UPDATE reservations").
		WillReturnResult(sqlmockNewResult(0))

	err := repo.UpdateStatus(context.Background(), "r1", ReservationPending, ReservationConfirmed)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestExpireByIDsEmptyInput(t *testing.T) {
	repo, mockDB := newReservationTestRepo(t)
	defer mockDB.Close()

	expired, err := repo.ExpireByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, expired)
	mockDB.ExpectationsWereMet(t)
}

func TestExpireByIDsSkipsNonPending(t *testing.T) {
	repo, mockDB := newReservationTestRepo(t)
	defer mockDB.Close()

	ids := []string{"r1", "r2", "r3"}
	mockDB.Mock.ExpectQuery("UPDATE reservations").
		WithArgs(pq.Array(ids)).
		WillReturnRows(testutil.MockRows("id").AddRow("r1").AddRow("r3"))

	expired, err := repo.ExpireByIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, expired)
	mockDB.ExpectationsWereMet(t)
}
