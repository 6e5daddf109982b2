package events

import (
	"context"

	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/messaging"
)

// LedgerEventPublisher publishes ledger events for collaborating modules.
// Publishing is best-effort and never part of a ledger transaction; a nil
// publisher is valid and drops everything.
type LedgerEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewLedgerEventPublisher creates a new ledger event publisher
func NewLedgerEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*LedgerEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLedgerEvents, "ledger-service", log)
	if err != nil {
		return nil, err
	}

	return &LedgerEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishBatchReceived publishes a batch received event
func (p *LedgerEventPublisher) PublishBatchReceived(ctx context.Context, batch *repository.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchReceivedEvent{
		BatchID:          batch.ID,
		BatchNumber:      batch.BatchNumber,
		ItemID:           batch.ItemID,
		ReceivedQuantity: batch.ReceivedQuantity.String(),
		Unit:             batch.Unit,
		UnitCost:         batch.UnitCost.String(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchReceived, data); err != nil {
		p.logger.Error().Err(err).Str("batch_number", batch.BatchNumber).Msg("failed to publish batch received event")
	}
}

// PublishStatusChanged publishes a lifecycle transition event
func (p *LedgerEventPublisher) PublishStatusChanged(ctx context.Context, batch *repository.Batch, ev *repository.BatchStatusEvent) {
	if p == nil {
		return
	}

	eventType := messaging.EventBatchStatusChanged
	if ev.ToStatus == repository.StatusArchived {
		eventType = messaging.EventBatchArchived
	}

	data := messaging.BatchStatusChangedEvent{
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		FromStatus:  string(ev.FromStatus),
		ToStatus:    string(ev.ToStatus),
		ActorID:     ev.ActorID,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("batch_number", batch.BatchNumber).Msg("failed to publish status changed event")
	}
}

// PublishBatchRepacked publishes a repack event
func (p *LedgerEventPublisher) PublishBatchRepacked(ctx context.Context, rec *repository.RepackingRecord, parent, child *repository.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchRepackedEvent{
		ParentBatchID:     parent.ID,
		ParentBatchNumber: parent.BatchNumber,
		ChildBatchID:      child.ID,
		ChildBatchNumber:  child.BatchNumber,
		DamagedQuantity:   rec.DamagedQuantity.String(),
		RepackedQuantity:  rec.RepackedQuantity.String(),
		LossQuantity:      rec.LossQuantity().String(),
		Reason:            rec.Reason,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchRepacked, data); err != nil {
		p.logger.Error().Err(err).Str("batch_number", parent.BatchNumber).Msg("failed to publish repack event")
	}
}

// PublishStockAllocated publishes a stock allocated event
func (p *LedgerEventPublisher) PublishStockAllocated(ctx context.Context, data messaging.StockAllocatedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAllocated, data); err != nil {
		p.logger.Error().Err(err).Str("allocation_id", data.AllocationID).Msg("failed to publish stock allocated event")
	}
}

// PublishReservation publishes a reservation lifecycle event
func (p *LedgerEventPublisher) PublishReservation(ctx context.Context, eventType string, res *repository.Reservation) {
	if p == nil {
		return
	}

	until := res.ReservedUntil
	data := messaging.ReservationEvent{
		ReservationID: res.ID,
		ItemID:        res.ItemID,
		Quantity:      res.Quantity.String(),
		Status:        string(res.Status),
		ReservedUntil: &until,
		Reference:     res.Reference,
		ReferenceType: res.ReferenceType,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to publish reservation event")
	}
}
