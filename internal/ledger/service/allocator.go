package service

import (
	"context"

	"github.com/agriflow/agriflow-backend/internal/ledger/events"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/actor"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/messaging"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// DeductionLine asks for a quantity of one item.
type DeductionLine struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// DeductionRequest is a multi-item FIFO deduction. It commits atomically:
// either every line is fully satisfied or nothing is written.
type DeductionRequest struct {
	Lines         []DeductionLine `json:"lines" validate:"required,min=1,dive"`
	Reference     string          `json:"reference" validate:"required"`
	ReferenceType string          `json:"reference_type" validate:"required"`
}

// BatchConsumption is one batch's contribution to an item deduction.
type BatchConsumption struct {
	BatchID     string          `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineCost    decimal.Decimal `json:"line_cost"`
}

// ItemAllocation is the costed outcome of one item's deduction.
type ItemAllocation struct {
	ItemID          string             `json:"item_id"`
	Quantity        decimal.Decimal    `json:"quantity"`
	Consumptions    []BatchConsumption `json:"consumptions"`
	TotalCost       decimal.Decimal    `json:"total_cost"`
	WeightedAvgCost decimal.Decimal    `json:"weighted_avg_cost"`
}

// AllocationResult is the committed outcome of a deduction request.
type AllocationResult struct {
	AllocationID string            `json:"allocation_id"`
	Items        []*ItemAllocation `json:"items"`
}

// AllocatorService walks an item's batches oldest-first and deducts stock,
// recording which batch supplied what at which cost.
type AllocatorService struct {
	db        *database.DB
	batchRepo *repository.BatchRepository
	allocRepo *repository.AllocationRepository
	publisher *events.LedgerEventPublisher
	validator *validator.Validate
	logger    *logger.Logger
}

// NewAllocatorService creates a new allocator service
func NewAllocatorService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	allocRepo *repository.AllocationRepository,
	publisher *events.LedgerEventPublisher,
	log *logger.Logger,
) *AllocatorService {
	return &AllocatorService{
		db:        db,
		batchRepo: batchRepo,
		allocRepo: allocRepo,
		publisher: publisher,
		validator: validator.New(),
		logger:    log.WithComponent("allocator-service"),
	}
}

// Allocate performs a FIFO deduction across all requested items in a single
// transaction. If any line cannot be fully satisfied the whole request fails
// with no stock touched.
func (s *AllocatorService) Allocate(ctx context.Context, req *DeductionRequest) (*AllocationResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	var result *AllocationResult
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		r, err := s.allocateInTx(ctx, tx, req)
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
		Str("allocation_id", result.AllocationID).
		Str("reference", req.Reference).
		Int("items", len(result.Items)).
		Msg("stock allocated")

	s.publishAllocated(ctx, req, result)
	return result, nil
}

// allocateInTx runs the deduction inside an existing transaction so that
// reservation confirmation can share one commit with its status change.
func (s *AllocatorService) allocateInTx(ctx context.Context, tx *sqlx.Tx, req *DeductionRequest) (*AllocationResult, error) {
	batchRepo := s.batchRepo.WithTx(tx)
	allocRepo := s.allocRepo.WithTx(tx)

	alloc := &repository.StockAllocation{
		Reference:     req.Reference,
		ReferenceType: req.ReferenceType,
		CreatedBy:     actor.IDFromContext(ctx),
	}
	if err := allocRepo.CreateAllocation(ctx, alloc); err != nil {
		return nil, err
	}

	result := &AllocationResult{AllocationID: alloc.ID}

	for _, line := range req.Lines {
		batches, err := batchRepo.SelectEligibleForUpdate(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}

		item, err := planConsumption(line.ItemID, line.Quantity, batches)
		if err != nil {
			return nil, err
		}

		for _, c := range item.Consumptions {
			if err := batchRepo.DecrementRemaining(ctx, c.BatchID, c.Quantity); err != nil {
				return nil, err
			}
			if err := allocRepo.CreateLine(ctx, &repository.AllocationLine{
				AllocationID: alloc.ID,
				ItemID:       line.ItemID,
				BatchID:      c.BatchID,
				BatchNumber:  c.BatchNumber,
				Quantity:     c.Quantity,
				UnitCost:     c.UnitCost,
				LineCost:     c.LineCost,
			}); err != nil {
				return nil, err
			}
		}

		result.Items = append(result.Items, item)
	}

	return result, nil
}

func (s *AllocatorService) validateRequest(req *DeductionRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return errors.Validation(map[string]string{"request": err.Error()})
	}
	for _, line := range req.Lines {
		if !line.Quantity.IsPositive() {
			return errors.Validation(map[string]string{"quantity": "must be positive for item " + line.ItemID})
		}
	}
	return nil
}

func (s *AllocatorService) publishAllocated(ctx context.Context, req *DeductionRequest, result *AllocationResult) {
	data := messaging.StockAllocatedEvent{
		AllocationID:  result.AllocationID,
		Reference:     req.Reference,
		ReferenceType: req.ReferenceType,
	}
	for _, item := range result.Items {
		data.Items = append(data.Items, messaging.AllocatedItemEvent{
			ItemID:          item.ItemID,
			Quantity:        item.Quantity.String(),
			TotalCost:       item.TotalCost.String(),
			WeightedAvgCost: item.WeightedAvgCost.String(),
			BatchCount:      len(item.Consumptions),
		})
	}
	s.publisher.PublishStockAllocated(ctx, data)
}

// planConsumption walks already-ordered batches and decides how much to take
// from each. Pure planning over the snapshot; the caller applies it. Fails
// before any batch is touched when the eligible total cannot cover the ask.
func planConsumption(itemID string, quantity decimal.Decimal, batches []*repository.Batch) (*ItemAllocation, error) {
	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.RemainingQuantity)
	}
	if available.LessThan(quantity) {
		return nil, errors.InsufficientStock(itemID, quantity.String(), available.String())
	}

	item := &ItemAllocation{
		ItemID:    itemID,
		Quantity:  quantity,
		TotalCost: decimal.Zero,
	}

	left := quantity
	for _, b := range batches {
		if !left.IsPositive() {
			break
		}

		take := decimal.Min(b.RemainingQuantity, left)
		lineCost := take.Mul(b.UnitCost)

		item.Consumptions = append(item.Consumptions, BatchConsumption{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			UnitCost:    b.UnitCost,
			LineCost:    lineCost,
		})
		item.TotalCost = item.TotalCost.Add(lineCost)
		left = left.Sub(take)
	}

	item.WeightedAvgCost = item.TotalCost.Div(quantity)
	return item, nil
}
