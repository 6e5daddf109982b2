package service

import (
	"context"
	"testing"
	"time"

	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/database"
	apperrors "github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleTestService(t *testing.T) (*LifecycleService, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	db := database.Wrap(mockDB.DB, logger.Nop())
	cfg := testLedgerConfig()
	sequence := NewSequenceService(db, repository.NewSequenceRepository(db), cfg, logger.Nop())
	svc := NewLifecycleService(db, repository.NewBatchRepository(db), sequence, nil, cfg, logger.Nop())
	return svc, mockDB
}

func TestBatchStatusNext(t *testing.T) {
	tests := []struct {
		current repository.BatchStatus
		next    repository.BatchStatus
		ok      bool
	}{
		{repository.StatusOrdered, repository.StatusReceived, true},
		{repository.StatusReceived, repository.StatusInGrading, true},
		{repository.StatusInGrading, repository.StatusInPacking, true},
		{repository.StatusInPacking, repository.StatusInInventory, true},
		{repository.StatusInInventory, repository.StatusAllocated, true},
		{repository.StatusAllocated, repository.StatusInTransit, true},
		{repository.StatusInTransit, repository.StatusDelivered, true},
		{repository.StatusDelivered, repository.StatusArchived, true},
		{repository.StatusArchived, "", false},
		{repository.BatchStatus("bogus"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			next, ok := tt.current.Next()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.next, next)
		})
	}
}

func TestReceiveBatchValidation(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	tests := []struct {
		name string
		req  *ReceiveBatchRequest
	}{
		{
			name: "missing item",
			req:  &ReceiveBatchRequest{Unit: "kg", Quantity: dec("10"), UnitCost: dec("5")},
		},
		{
			name: "zero quantity",
			req:  &ReceiveBatchRequest{ItemID: "item-1", Unit: "kg", Quantity: dec("0"), UnitCost: dec("5")},
		},
		{
			name: "negative unit cost",
			req:  &ReceiveBatchRequest{ItemID: "item-1", Unit: "kg", Quantity: dec("10"), UnitCost: dec("-1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReceiveBatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		})
	}
	mockDB.ExpectationsWereMet(t)
}

func TestReceiveBatch(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.sequence.now = svc.now

	fyStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	fyEnd := fyStart.AddDate(1, 0, 0)

	// Minting runs in its own transaction before the insert.
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT (.+) FROM sequence_counters").
		WithArgs("B").
		WillReturnRows(testutil.MockRows(counterColumns()...).
			AddRow("B", int64(11), "2526", fyStart, fyEnd, time.Now()))
	mockDB.Mock.ExpectExec("UPDATE sequence_counters").
		WithArgs("B", int64(12), "2526", fyStart, fyEnd).
		WillReturnResult(sqlmockResult(1))
	mockDB.ExpectCommit()

	mockDB.Mock.ExpectQuery("INSERT INTO batches").
		WithArgs(
			testutil.AnyUUID{}, "B/2526/0012", "item-1", "kg",
			testutil.DecimalEq{Value: dec("250")}, testutil.DecimalEq{Value: dec("250")},
			testutil.DecimalEq{Value: dec("4.75")}, string(repository.StatusReceived),
			testutil.AnyTime{}, false, nil, testutil.AnyUUID{},
		).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	batch, err := svc.ReceiveBatch(context.Background(), &ReceiveBatchRequest{
		ItemID:   "item-1",
		Unit:     "kg",
		Quantity: dec("250"),
		UnitCost: dec("4.75"),
	})
	require.NoError(t, err)

	assert.Equal(t, "B/2526/0012", batch.BatchNumber)
	assert.Equal(t, repository.StatusReceived, batch.Status)
	assert.True(t, batch.RemainingQuantity.Equal(dec("250")))
	assert.Equal(t, now, batch.ReceivedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestTransition(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	receivedAt := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	batchID := "11111111-1111-1111-1111-111111111111"

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT (.+) FROM batches").
		WithArgs(batchID).
		WillReturnRows(batchRows(
			batchRow(batchID, "B/2526/0001", "item-1", "100", "5.00", repository.StatusReceived, receivedAt),
		))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(batchID, string(repository.StatusReceived), string(repository.StatusInGrading)).
		WillReturnResult(sqlmockResult(1))
	mockDB.Mock.ExpectQuery("INSERT INTO batch_status_events").
		WithArgs(testutil.AnyUUID{}, batchID, string(repository.StatusReceived), string(repository.StatusInGrading), testutil.AnyUUID{}).
		WillReturnRows(testutil.MockRows("occurred_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	batch, err := svc.Transition(context.Background(), batchID, repository.StatusInGrading)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInGrading, batch.Status)
	mockDB.ExpectationsWereMet(t)
}

func TestTransitionRejectsNonSuccessor(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	receivedAt := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	batchID := "11111111-1111-1111-1111-111111111111"

	tests := []struct {
		name    string
		current repository.BatchStatus
		target  repository.BatchStatus
	}{
		{"skipping ahead", repository.StatusReceived, repository.StatusInPacking},
		{"moving backwards", repository.StatusInPacking, repository.StatusInGrading},
		{"archiving directly", repository.StatusDelivered, repository.StatusArchived},
		{"leaving archived", repository.StatusArchived, repository.StatusOrdered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB.ExpectBegin()
			mockDB.Mock.ExpectQuery("SELECT (.+) FROM batches").
				WithArgs(batchID).
				WillReturnRows(batchRows(
					batchRow(batchID, "B/2526/0001", "item-1", "100", "5.00", tt.current, receivedAt),
				))
			mockDB.ExpectRollback()

			_, err := svc.Transition(context.Background(), batchID, tt.target)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
		})
	}
	mockDB.ExpectationsWereMet(t)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	_, err := svc.Transition(context.Background(), "some-id", repository.BatchStatus("bogus"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	mockDB.ExpectationsWereMet(t)
}

func TestArchiveDelivered(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	now := time.Date(2025, 7, 10, 3, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	id1 := "11111111-1111-1111-1111-111111111111"
	id2 := "22222222-2222-2222-2222-222222222222"
	deliveredAt := now.Add(-200 * time.Hour)

	mockDB.Mock.ExpectQuery("SELECT id FROM batches").
		WithArgs(now.Add(-svc.cfg.ArchiveDwell), svc.cfg.SweepChunkSize).
		WillReturnRows(testutil.MockRows("id").AddRow(id1).AddRow(id2))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("UPDATE batches").
		WillReturnRows(testutil.MockRows("id").AddRow(id1).AddRow(id2))
	for i := 0; i < 2; i++ {
		mockDB.Mock.ExpectQuery("INSERT INTO batch_status_events").
			WillReturnRows(testutil.MockRows("occurred_at").AddRow(time.Now()))
	}
	mockDB.ExpectCommit()

	for _, id := range []string{id1, id2} {
		row := batchRow(id, "B/2526/000"+id[:1], "item-1", "0", "5.00", repository.StatusArchived, deliveredAt)
		mockDB.Mock.ExpectQuery("SELECT (.+) FROM batches").
			WithArgs(id).
			WillReturnRows(batchRows(row))
	}

	archived, err := svc.ArchiveDelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, archived)
	mockDB.ExpectationsWereMet(t)
}

func TestArchiveDeliveredNothingDue(t *testing.T) {
	svc, mockDB := newLifecycleTestService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("SELECT id FROM batches").
		WillReturnRows(testutil.MockRows("id"))

	archived, err := svc.ArchiveDelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	mockDB.ExpectationsWereMet(t)
}
