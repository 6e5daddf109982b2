package service

import (
	"context"
	"time"

	"github.com/agriflow/agriflow-backend/internal/ledger/events"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/actor"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RepackRequest splits damaged stock out of a batch into a repacked child.
// The repacked quantity survives under the child's number; the rest of the
// damaged quantity is written off as loss.
type RepackRequest struct {
	ParentBatchID    string          `json:"parent_batch_id" validate:"required"`
	DamagedQuantity  decimal.Decimal `json:"damaged_quantity"`
	RepackedQuantity decimal.Decimal `json:"repacked_quantity"`
	Reason           string          `json:"reason" validate:"required"`
}

// RepackResult is the committed outcome of a repack.
type RepackResult struct {
	Record *repository.RepackingRecord `json:"record"`
	Parent *repository.Batch           `json:"parent"`
	Child  *repository.Batch           `json:"child"`
}

// RepackService performs single-generation repacking: a batch may have at
// most one repacked child, and a repacked child may never be repacked again.
type RepackService struct {
	db         *database.DB
	batchRepo  *repository.BatchRepository
	repackRepo *repository.RepackingRepository
	sequence   *SequenceService
	publisher  *events.LedgerEventPublisher
	validator  *validator.Validate
	logger     *logger.Logger
	now        func() time.Time
}

// NewRepackService creates a new repack service
func NewRepackService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	repackRepo *repository.RepackingRepository,
	sequence *SequenceService,
	publisher *events.LedgerEventPublisher,
	log *logger.Logger,
) *RepackService {
	return &RepackService{
		db:         db,
		batchRepo:  batchRepo,
		repackRepo: repackRepo,
		sequence:   sequence,
		publisher:  publisher,
		validator:  validator.New(),
		logger:     log.WithComponent("repack-service"),
		now:        time.Now,
	}
}

// Repack atomically deducts the damaged quantity from the parent, creates the
// child batch under the parent's number with an R suffix, and records the
// lineage. The child inherits the parent's unit cost and enters the lifecycle
// directly in inventory.
func (s *RepackService) Repack(ctx context.Context, req *RepackRequest) (*RepackResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	var result *RepackResult
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		r, err := s.repackInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("parent_batch", result.Parent.BatchNumber).
		Str("child_batch", result.Child.BatchNumber).
		Str("damaged", req.DamagedQuantity.String()).
		Str("repacked", req.RepackedQuantity.String()).
		Str("loss", result.Record.LossQuantity().String()).
		Msg("batch repacked")

	s.publisher.PublishBatchRepacked(ctx, result.Record, result.Parent, result.Child)
	return result, nil
}

func (s *RepackService) repackInTx(ctx context.Context, tx *sqlx.Tx, req *RepackRequest) (*RepackResult, error) {
	batchRepo := s.batchRepo.WithTx(tx)
	repackRepo := s.repackRepo.WithTx(tx)

	parent, err := batchRepo.GetForUpdate(ctx, req.ParentBatchID)
	if err != nil {
		return nil, err
	}

	if parent.Status == repository.StatusArchived {
		return nil, errors.Conflict("archived batches cannot be repacked")
	}
	if parent.IsRepacked {
		return nil, errors.Conflict("repacked batches cannot be repacked again")
	}
	exists, err := repackRepo.ExistsForParent(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.DuplicateRepack(parent.BatchNumber)
	}

	if parent.RemainingQuantity.LessThan(req.DamagedQuantity) {
		return nil, errors.InsufficientStock(parent.ItemID, req.DamagedQuantity.String(), parent.RemainingQuantity.String())
	}

	child := &repository.Batch{
		BatchNumber:       s.sequence.RepackedBatchNumber(parent.BatchNumber),
		ItemID:            parent.ItemID,
		Unit:              parent.Unit,
		ReceivedQuantity:  req.RepackedQuantity,
		RemainingQuantity: req.RepackedQuantity,
		UnitCost:          parent.UnitCost,
		Status:            repository.StatusInInventory,
		ReceivedAt:        s.now(),
		IsRepacked:        true,
		ParentBatchID:     &parent.ID,
		CreatedBy:         actor.IDFromContext(ctx),
	}
	if err := batchRepo.Create(ctx, child); err != nil {
		return nil, err
	}

	if err := batchRepo.DecrementRemaining(ctx, parent.ID, req.DamagedQuantity); err != nil {
		return nil, err
	}
	parent.RemainingQuantity = parent.RemainingQuantity.Sub(req.DamagedQuantity)

	rec := &repository.RepackingRecord{
		ParentBatchID:    parent.ID,
		ChildBatchID:     child.ID,
		DamagedQuantity:  req.DamagedQuantity,
		RepackedQuantity: req.RepackedQuantity,
		Reason:           req.Reason,
		CreatedBy:        actor.IDFromContext(ctx),
	}
	if err := repackRepo.Create(ctx, rec); err != nil {
		return nil, err
	}

	return &RepackResult{Record: rec, Parent: parent, Child: child}, nil
}

func (s *RepackService) validateRequest(req *RepackRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return errors.Validation(map[string]string{"request": err.Error()})
	}
	if !req.DamagedQuantity.IsPositive() {
		return errors.Validation(map[string]string{"damaged_quantity": "must be positive"})
	}
	if !req.RepackedQuantity.IsPositive() {
		return errors.Validation(map[string]string{"repacked_quantity": "must be positive"})
	}
	if req.RepackedQuantity.GreaterThan(req.DamagedQuantity) {
		return errors.Validation(map[string]string{"repacked_quantity": "cannot exceed damaged quantity"})
	}
	return nil
}

// Lineage returns the repacking record for a parent batch.
func (s *RepackService) Lineage(ctx context.Context, parentBatchID string) (*repository.RepackingRecord, error) {
	return s.repackRepo.GetByParent(ctx, parentBatchID)
}
