package service

import (
	"context"
	"time"

	"github.com/agriflow/agriflow-backend/internal/ledger/events"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/actor"
	"github.com/agriflow/agriflow-backend/pkg/config"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/messaging"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ReserveRequest places a time-bounded soft hold on an item's availability.
type ReserveRequest struct {
	ItemID        string          `json:"item_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	TTL           time.Duration   `json:"ttl"`
	Reference     string          `json:"reference" validate:"required"`
	ReferenceType string          `json:"reference_type" validate:"required"`
}

// ReservationService manages soft holds: reserve against availability, confirm
// into a real FIFO deduction, cancel, and expire overdue holds in sweeps.
type ReservationService struct {
	db        *database.DB
	resRepo   *repository.ReservationRepository
	batchRepo *repository.BatchRepository
	allocator *AllocatorService
	publisher *events.LedgerEventPublisher
	cfg       *config.LedgerConfig
	validator *validator.Validate
	logger    *logger.Logger
	now       func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(
	db *database.DB,
	resRepo *repository.ReservationRepository,
	batchRepo *repository.BatchRepository,
	allocator *AllocatorService,
	publisher *events.LedgerEventPublisher,
	cfg *config.LedgerConfig,
	log *logger.Logger,
) *ReservationService {
	return &ReservationService{
		db:        db,
		resRepo:   resRepo,
		batchRepo: batchRepo,
		allocator: allocator,
		publisher: publisher,
		cfg:       cfg,
		validator: validator.New(),
		logger:    log.WithComponent("reservation-service"),
		now:       time.Now,
	}
}

// Reserve creates a pending reservation if the item's availability (remaining
// stock minus other pending holds) covers the quantity. The check and the
// insert share one transaction, and locking the item's batch rows serializes
// reserve against concurrent allocations on the same item.
func (s *ReservationService) Reserve(ctx context.Context, req *ReserveRequest) (*repository.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.Validation(map[string]string{"request": err.Error()})
	}
	if !req.Quantity.IsPositive() {
		return nil, errors.Validation(map[string]string{"quantity": "must be positive"})
	}
	if req.TTL <= 0 {
		return nil, errors.Validation(map[string]string{"ttl": "must be positive"})
	}

	ttl := req.TTL
	if ttl > s.cfg.ReservationMaxTTL {
		ttl = s.cfg.ReservationMaxTTL
	}

	res := &repository.Reservation{
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		Status:        repository.ReservationPending,
		ReservedUntil: s.now().Add(ttl),
		Reference:     req.Reference,
		ReferenceType: req.ReferenceType,
		CreatedBy:     actor.IDFromContext(ctx),
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches, err := s.batchRepo.WithTx(tx).SelectEligibleForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}

		remaining := decimal.Zero
		for _, b := range batches {
			remaining = remaining.Add(b.RemainingQuantity)
		}

		pending, err := s.resRepo.WithTx(tx).SumPendingByItem(ctx, req.ItemID)
		if err != nil {
			return err
		}

		available := remaining.Sub(pending)
		if available.LessThan(req.Quantity) {
			return errors.InsufficientAvailableStock(req.ItemID, req.Quantity.String(), available.String())
		}

		return s.resRepo.WithTx(tx).Create(ctx, res)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("reservation_id", res.ID).
		Str("item_id", res.ItemID).
		Str("quantity", res.Quantity.String()).
		Time("reserved_until", res.ReservedUntil).
		Msg("reservation created")

	s.publisher.PublishReservation(ctx, messaging.EventReservationCreated, res)
	return res, nil
}

// Confirm converts a pending reservation into a committed FIFO deduction. The
// status flip and the allocation commit together; a reservation is confirmed
// exactly when its stock has been drawn down. A confirm that finds the stock
// gone (drawn by a direct allocation in the meantime) marks the reservation
// failed and surfaces the shortfall.
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (*AllocationResult, error) {
	var (
		res    *repository.Reservation
		result *AllocationResult
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		r, err := s.resRepo.WithTx(tx).GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		res = r

		if res.Status != repository.ReservationPending {
			return errors.Conflict("reservation is " + string(res.Status) + ", only pending reservations can be confirmed")
		}

		if err := s.resRepo.WithTx(tx).UpdateStatus(ctx, res.ID, repository.ReservationPending, repository.ReservationConfirmed); err != nil {
			return err
		}

		result, err = s.allocator.allocateInTx(ctx, tx, &DeductionRequest{
			Lines:         []DeductionLine{{ItemID: res.ItemID, Quantity: res.Quantity}},
			Reference:     res.ID,
			ReferenceType: "reservation",
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errors.ErrInsufficientStock) {
			s.markFailed(ctx, reservationID)
		}
		return nil, err
	}

	res.Status = repository.ReservationConfirmed
	s.logger.Info().
		Str("reservation_id", res.ID).
		Str("allocation_id", result.AllocationID).
		Msg("reservation confirmed")

	s.publisher.PublishReservation(ctx, messaging.EventReservationConfirmed, res)
	return result, nil
}

// markFailed records a confirm that lost the race to concurrent drawdown. Best
// effort in a fresh transaction; the guarded update keeps it from clobbering a
// state someone else set first.
func (s *ReservationService) markFailed(ctx context.Context, reservationID string) {
	err := s.resRepo.UpdateStatus(ctx, reservationID, repository.ReservationPending, repository.ReservationFailed)
	if err != nil {
		s.logger.Error().Err(err).
			Str("reservation_id", reservationID).
			Msg("failed to mark reservation failed")
	}
}

// Cancel releases a pending reservation, returning its quantity to
// availability immediately.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string) (*repository.Reservation, error) {
	var res *repository.Reservation

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		r, err := s.resRepo.WithTx(tx).GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		res = r

		if res.Status != repository.ReservationPending {
			return errors.Conflict("reservation is " + string(res.Status) + ", only pending reservations can be cancelled")
		}

		return s.resRepo.WithTx(tx).UpdateStatus(ctx, res.ID, repository.ReservationPending, repository.ReservationCancelled)
	})
	if err != nil {
		return nil, err
	}

	res.Status = repository.ReservationCancelled
	s.logger.Info().Str("reservation_id", res.ID).Msg("reservation cancelled")

	s.publisher.PublishReservation(ctx, messaging.EventReservationCancelled, res)
	return res, nil
}

// GetByID returns a reservation by id.
func (s *ReservationService) GetByID(ctx context.Context, reservationID string) (*repository.Reservation, error) {
	return s.resRepo.GetByID(ctx, reservationID)
}

// Availability reports an item's reservable quantity: remaining stock across
// non-archived batches minus pending holds. Read-only snapshot, no locks.
func (s *ReservationService) Availability(ctx context.Context, itemID string) (decimal.Decimal, error) {
	remaining, err := s.batchRepo.SumRemainingByItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	pending, err := s.resRepo.SumPendingByItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return remaining.Sub(pending), nil
}

// ExpireOverdue expires pending reservations past their deadline, committing
// in bounded chunks so a large backlog never holds locks for long. Each
// expiry is a guarded update, so rows confirmed or cancelled between selection
// and update are skipped, and rerunning the sweep is harmless.
func (s *ReservationService) ExpireOverdue(ctx context.Context) (int, error) {
	total := 0
	asOf := s.now()

	for {
		ids, err := s.resRepo.SelectOverdueIDs(ctx, asOf, s.cfg.SweepChunkSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		expired, err := s.resRepo.ExpireByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += len(expired)

		for _, id := range expired {
			res, err := s.resRepo.GetByID(ctx, id)
			if err != nil {
				s.logger.Error().Err(err).Str("reservation_id", id).Msg("failed to load expired reservation")
				continue
			}
			s.publisher.PublishReservation(ctx, messaging.EventReservationExpired, res)
		}

		if len(ids) < s.cfg.SweepChunkSize {
			return total, nil
		}
	}
}
