package ledger_test

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agriflow/agriflow-backend/internal/ledger"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/internal/ledger/service"
	"github.com/agriflow/agriflow-backend/pkg/actor"
	"github.com/agriflow/agriflow-backend/pkg/config"
	"github.com/agriflow/agriflow-backend/pkg/database"
	apperrors "github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testDB   *database.DB
	testCore *ledger.Core
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	db, err := container.Connect(ctx)
	if err != nil {
		container.Terminate(ctx)
		log.Fatalf("failed to connect: %v", err)
	}

	if err := container.CreateLedgerSchema(ctx, db); err != nil {
		container.Terminate(ctx)
		log.Fatalf("failed to create schema: %v", err)
	}

	testDB = database.Wrap(db, logger.Nop())
	testCore = ledger.NewCore(testDB, nil, &config.LedgerConfig{
		BatchPrefix:         "B",
		StartingNumber:      0,
		FYStartMonth:        4,
		FYStartDay:          1,
		SequenceMaxAttempts: 20,
		ReservationMaxTTL:   720 * time.Hour,
		ArchiveDwell:        0,
		SweepInterval:       time.Hour,
		SweepChunkSize:      100,
	}, logger.Nop())

	code := m.Run()

	testDB.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func testCtx() context.Context {
	return actor.WithActor(context.Background(), &actor.Actor{
		ID:     uuid.New().String(),
		Name:   "Integration Tester",
		Module: "orders",
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func receiveBatch(t *testing.T, itemID, qty, cost string, receivedAt time.Time) *repository.Batch {
	t.Helper()
	batch, err := testCore.Lifecycle.ReceiveBatch(testCtx(), &service.ReceiveBatchRequest{
		ItemID:     itemID,
		Unit:       "kg",
		Quantity:   dec(qty),
		UnitCost:   dec(cost),
		ReceivedAt: receivedAt,
	})
	require.NoError(t, err)
	return batch
}

func TestFIFOAllocationFlow(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testCtx()

	itemID := uuid.New().String()
	base := time.Now().Add(-48 * time.Hour)

	older := receiveBatch(t, itemID, "60", "5.00", base)
	newer := receiveBatch(t, itemID, "40", "5.50", base.Add(time.Hour))

	result, err := testCore.Allocator.Allocate(ctx, &service.DeductionRequest{
		Lines:         []service.DeductionLine{{ItemID: itemID, Quantity: dec("70")}},
		Reference:     "ORD-" + uuid.New().String(),
		ReferenceType: "order",
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	require.Len(t, item.Consumptions, 2)

	assert.Equal(t, older.ID, item.Consumptions[0].BatchID)
	assert.True(t, item.Consumptions[0].Quantity.Equal(dec("60")))
	assert.Equal(t, newer.ID, item.Consumptions[1].BatchID)
	assert.True(t, item.Consumptions[1].Quantity.Equal(dec("10")))
	assert.True(t, item.TotalCost.Equal(dec("355")))
	assert.True(t, item.WeightedAvgCost.Round(4).Equal(dec("5.0714")))

	got, err := testCore.Lifecycle.GetBatch(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.IsZero())

	got, err = testCore.Lifecycle.GetBatch(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("30")))

	// All-or-nothing: asking for more than remains fails and touches nothing.
	_, err = testCore.Allocator.Allocate(ctx, &service.DeductionRequest{
		Lines:         []service.DeductionLine{{ItemID: itemID, Quantity: dec("31")}},
		Reference:     "ORD-" + uuid.New().String(),
		ReferenceType: "order",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	got, err = testCore.Lifecycle.GetBatch(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("30")))
}

func TestReservationFlow(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testCtx()

	itemID := uuid.New().String()
	receiveBatch(t, itemID, "100", "5.00", time.Now().Add(-24*time.Hour))

	// Overreserving fails.
	_, err := testCore.Reservations.Reserve(ctx, &service.ReserveRequest{
		ItemID:        itemID,
		Quantity:      dec("150"),
		TTL:           time.Hour,
		Reference:     "ORD-1",
		ReferenceType: "order",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientAvailableStock))

	res, err := testCore.Reservations.Reserve(ctx, &service.ReserveRequest{
		ItemID:        itemID,
		Quantity:      dec("70"),
		TTL:           time.Hour,
		Reference:     "ORD-1",
		ReferenceType: "order",
	})
	require.NoError(t, err)

	available, err := testCore.Reservations.Availability(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("30")))

	// A second reservation beyond the reduced availability fails.
	_, err = testCore.Reservations.Reserve(ctx, &service.ReserveRequest{
		ItemID:        itemID,
		Quantity:      dec("40"),
		TTL:           time.Hour,
		Reference:     "ORD-2",
		ReferenceType: "order",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientAvailableStock))

	// Cancelling restores availability immediately.
	_, err = testCore.Reservations.Cancel(ctx, res.ID)
	require.NoError(t, err)

	available, err = testCore.Reservations.Availability(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("100")))

	// Cancelling again is a conflict.
	_, err = testCore.Reservations.Cancel(ctx, res.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	// Confirm converts the hold into a real drawdown.
	res, err = testCore.Reservations.Reserve(ctx, &service.ReserveRequest{
		ItemID:        itemID,
		Quantity:      dec("25"),
		TTL:           time.Hour,
		Reference:     "ORD-3",
		ReferenceType: "order",
	})
	require.NoError(t, err)

	result, err := testCore.Reservations.Confirm(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].TotalCost.Equal(dec("125")))

	confirmed, err := testCore.Reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationConfirmed, confirmed.Status)

	available, err = testCore.Reservations.Availability(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("75")))
}

func TestReservationExpirySweep(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testCtx()

	itemID := uuid.New().String()
	receiveBatch(t, itemID, "50", "3.00", time.Now().Add(-24*time.Hour))

	res, err := testCore.Reservations.Reserve(ctx, &service.ReserveRequest{
		ItemID:        itemID,
		Quantity:      dec("20"),
		TTL:           50 * time.Millisecond,
		Reference:     "ORD-EXP",
		ReferenceType: "order",
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	expired, err := testCore.Reservations.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, expired, 1)

	got, err := testCore.Reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationExpired, got.Status)

	// Rerunning the sweep finds nothing new for this reservation.
	_, err = testCore.Reservations.ExpireOverdue(ctx)
	require.NoError(t, err)

	got, err = testCore.Reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationExpired, got.Status)

	available, err := testCore.Reservations.Availability(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("50")))
}

func TestRepackFlow(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testCtx()

	itemID := uuid.New().String()
	parent := receiveBatch(t, itemID, "100", "2.00", time.Now().Add(-24*time.Hour))

	result, err := testCore.Repack.Repack(ctx, &service.RepackRequest{
		ParentBatchID:    parent.ID,
		DamagedQuantity:  dec("20"),
		RepackedQuantity: dec("15"),
		Reason:           "crate crushed in transit",
	})
	require.NoError(t, err)

	assert.Equal(t, parent.BatchNumber+"R", result.Child.BatchNumber)
	assert.True(t, result.Child.IsRepacked)
	assert.True(t, result.Child.UnitCost.Equal(parent.UnitCost))
	assert.True(t, result.Parent.RemainingQuantity.Equal(dec("80")))
	assert.True(t, result.Record.LossQuantity().Equal(dec("5")))

	// A second repack of the same parent is rejected.
	_, err = testCore.Repack.Repack(ctx, &service.RepackRequest{
		ParentBatchID:    parent.ID,
		DamagedQuantity:  dec("10"),
		RepackedQuantity: dec("5"),
		Reason:           "more damage",
	})
	require.Error(t, err)

	// And the child can never be repacked.
	_, err = testCore.Repack.Repack(ctx, &service.RepackRequest{
		ParentBatchID:    result.Child.ID,
		DamagedQuantity:  dec("5"),
		RepackedQuantity: dec("3"),
		Reason:           "still damaged",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	// The repacked child drains before the older parent.
	alloc, err := testCore.Allocator.Allocate(ctx, &service.DeductionRequest{
		Lines:         []service.DeductionLine{{ItemID: itemID, Quantity: dec("10")}},
		Reference:     "WST-" + uuid.New().String(),
		ReferenceType: "wastage",
	})
	require.NoError(t, err)
	require.Len(t, alloc.Items[0].Consumptions, 1)
	assert.Equal(t, result.Child.ID, alloc.Items[0].Consumptions[0].BatchID)
}

func TestLifecycleAndArchivalSweep(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testCtx()

	itemID := uuid.New().String()
	batch := receiveBatch(t, itemID, "10", "1.00", time.Now())

	path := []repository.BatchStatus{
		repository.StatusInGrading,
		repository.StatusInPacking,
		repository.StatusInInventory,
		repository.StatusAllocated,
		repository.StatusInTransit,
		repository.StatusDelivered,
	}
	for _, target := range path {
		_, err := testCore.Lifecycle.Transition(ctx, batch.ID, target)
		require.NoError(t, err, "transition to %s", target)
	}

	// Skipping ahead or archiving directly is rejected.
	_, err := testCore.Lifecycle.Transition(ctx, batch.ID, repository.StatusArchived)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	// Zero dwell in the test config: the sweep may archive immediately.
	archived, err := testCore.Lifecycle.ArchiveDelivered(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, archived, 1)

	got, err := testCore.Lifecycle.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)

	// Archived batches are out of the lifecycle and out of availability.
	_, err = testCore.Lifecycle.Transition(ctx, batch.ID, repository.StatusReceived)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	available, err := testCore.Reservations.Availability(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	history, err := testCore.Lifecycle.StatusHistory(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, history, len(path)+1)
	assert.Equal(t, repository.StatusArchived, history[len(history)-1].ToStatus)
}

func TestConcurrentMintingIsUniqueAndSequential(t *testing.T) {
	testutil.SkipIfShort(t)

	const workers = 10

	var (
		mu      sync.Mutex
		numbers = make(map[string]bool)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := testCore.Sequence.NextBatchNumber(testCtx(), "C")
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			numbers[number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, numbers, workers, "every mint must yield a distinct number")

	for n := range numbers {
		assert.Regexp(t, `^C/\d{4}/\d{4,}$`, n)
	}
}
