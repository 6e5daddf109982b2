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
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ReceiveBatchRequest registers a new lot of stock.
type ReceiveBatchRequest struct {
	ItemID     string          `json:"item_id" validate:"required"`
	Unit       string          `json:"unit" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	ReceivedAt time.Time       `json:"received_at"`
	// Ordered records the lot before physical receipt; it enters the
	// lifecycle at ordered instead of received.
	Ordered bool `json:"ordered"`
}

// LifecycleService owns batch intake, the forward-only status machine, and
// the archival sweep over delivered batches.
type LifecycleService struct {
	db        *database.DB
	batchRepo *repository.BatchRepository
	sequence  *SequenceService
	publisher *events.LedgerEventPublisher
	cfg       *config.LedgerConfig
	validator *validator.Validate
	logger    *logger.Logger
	now       func() time.Time
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	sequence *SequenceService,
	publisher *events.LedgerEventPublisher,
	cfg *config.LedgerConfig,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		db:        db,
		batchRepo: batchRepo,
		sequence:  sequence,
		publisher: publisher,
		cfg:       cfg,
		validator: validator.New(),
		logger:    log.WithComponent("lifecycle-service"),
		now:       time.Now,
	}
}

// ReceiveBatch mints a batch number and registers the lot. The number is
// minted in its own transaction before the insert; if the insert then fails
// the number is a gap, which numbering tolerates, rather than a duplicate,
// which it never permits.
func (s *LifecycleService) ReceiveBatch(ctx context.Context, req *ReceiveBatchRequest) (*repository.Batch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.Validation(map[string]string{"request": err.Error()})
	}
	if !req.Quantity.IsPositive() {
		return nil, errors.Validation(map[string]string{"quantity": "must be positive"})
	}
	if req.UnitCost.IsNegative() {
		return nil, errors.Validation(map[string]string{"unit_cost": "must not be negative"})
	}

	number, err := s.sequence.NextBatchNumber(ctx, s.cfg.BatchPrefix)
	if err != nil {
		return nil, err
	}

	status := repository.StatusReceived
	if req.Ordered {
		status = repository.StatusOrdered
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	batch := &repository.Batch{
		BatchNumber:       number,
		ItemID:            req.ItemID,
		Unit:              req.Unit,
		ReceivedQuantity:  req.Quantity,
		RemainingQuantity: req.Quantity,
		UnitCost:          req.UnitCost,
		Status:            status,
		ReceivedAt:        receivedAt,
		CreatedBy:         actor.IDFromContext(ctx),
	}

	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Str("item_id", batch.ItemID).
		Str("quantity", batch.ReceivedQuantity.String()).
		Msg("batch received")

	s.publisher.PublishBatchReceived(ctx, batch)
	return batch, nil
}

// Transition moves a batch to the requested status. Only the direct forward
// successor is accepted; skipping ahead, moving backwards, and leaving a
// terminal state are all rejected. Archived is never a valid target here, it
// is reachable only through the archival sweep.
func (s *LifecycleService) Transition(ctx context.Context, batchID string, target repository.BatchStatus) (*repository.Batch, error) {
	if !target.Valid() {
		return nil, errors.Validation(map[string]string{"status": "unknown status " + string(target)})
	}

	var (
		batch *repository.Batch
		ev    *repository.BatchStatusEvent
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		repo := s.batchRepo.WithTx(tx)

		b, err := repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		batch = b

		next, ok := batch.Status.Next()
		if !ok || next != target || target == repository.StatusArchived {
			return errors.InvalidTransition(string(batch.Status), string(target))
		}

		if err := repo.UpdateStatus(ctx, batch.ID, batch.Status, target); err != nil {
			return err
		}

		ev = &repository.BatchStatusEvent{
			BatchID:    batch.ID,
			FromStatus: batch.Status,
			ToStatus:   target,
			ActorID:    actor.IDFromContext(ctx),
		}
		return repo.InsertStatusEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	batch.Status = target
	if target == repository.StatusDelivered {
		t := s.now()
		batch.DeliveredAt = &t
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Str("from", string(ev.FromStatus)).
		Str("to", string(ev.ToStatus)).
		Msg("batch status changed")

	s.publisher.PublishStatusChanged(ctx, batch, ev)
	return batch, nil
}

// GetBatch returns a batch by id.
func (s *LifecycleService) GetBatch(ctx context.Context, batchID string) (*repository.Batch, error) {
	return s.batchRepo.GetByID(ctx, batchID)
}

// GetBatchByNumber returns a batch by its human-readable number.
func (s *LifecycleService) GetBatchByNumber(ctx context.Context, batchNumber string) (*repository.Batch, error) {
	return s.batchRepo.GetByNumber(ctx, batchNumber)
}

// StatusHistory returns a batch's lifecycle audit trail, oldest first.
func (s *LifecycleService) StatusHistory(ctx context.Context, batchID string) ([]*repository.BatchStatusEvent, error) {
	return s.batchRepo.ListStatusEvents(ctx, batchID)
}

// ArchiveDelivered archives delivered batches whose dwell time has elapsed,
// committing in bounded chunks. Guarded updates skip batches that left the
// delivered state between selection and archival, so the sweep is idempotent.
func (s *LifecycleService) ArchiveDelivered(ctx context.Context) (int, error) {
	total := 0
	cutoff := s.now().Add(-s.cfg.ArchiveDwell)

	for {
		ids, err := s.batchRepo.SelectArchivable(ctx, cutoff, s.cfg.SweepChunkSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		var archived []string
		err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
			repo := s.batchRepo.WithTx(tx)

			a, err := repo.ArchiveByIDs(ctx, ids)
			if err != nil {
				return err
			}
			archived = a

			for _, id := range archived {
				if err := repo.InsertStatusEvent(ctx, &repository.BatchStatusEvent{
					BatchID:    id,
					FromStatus: repository.StatusDelivered,
					ToStatus:   repository.StatusArchived,
					ActorID:    actor.SystemActor().ID,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(archived)

		for _, id := range archived {
			batch, err := s.batchRepo.GetByID(ctx, id)
			if err != nil {
				s.logger.Error().Err(err).Str("batch_id", id).Msg("failed to load archived batch")
				continue
			}
			s.publisher.PublishStatusChanged(ctx, batch, &repository.BatchStatusEvent{
				BatchID:    id,
				FromStatus: repository.StatusDelivered,
				ToStatus:   repository.StatusArchived,
				ActorID:    actor.SystemActor().ID,
			})
		}

		if len(ids) < s.cfg.SweepChunkSize {
			return total, nil
		}
	}
}
