// Package ledger is the inventory ledger core: batch numbering, lifecycle,
// FIFO allocation, reservations, and repacking. Collaborating modules
// (receiving, grading, packing, orders, wastage) embed Core and call its
// services directly; there is no transport layer here.
package ledger

import (
	"github.com/agriflow/agriflow-backend/internal/ledger/events"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/internal/ledger/service"
	"github.com/agriflow/agriflow-backend/pkg/config"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/logger"
)

// Core bundles the ledger services over one database handle.
type Core struct {
	Sequence     *service.SequenceService
	Lifecycle    *service.LifecycleService
	Allocator    *service.AllocatorService
	Reservations *service.ReservationService
	Repack       *service.RepackService
	Scheduler    *service.SweepScheduler
}

// NewCore wires the repositories and services of the ledger core. The
// publisher may be nil, in which case no events are emitted.
func NewCore(db *database.DB, publisher *events.LedgerEventPublisher, cfg *config.LedgerConfig, log *logger.Logger) *Core {
	batchRepo := repository.NewBatchRepository(db)
	seqRepo := repository.NewSequenceRepository(db)
	resRepo := repository.NewReservationRepository(db)
	allocRepo := repository.NewAllocationRepository(db)
	repackRepo := repository.NewRepackingRepository(db)

	sequence := service.NewSequenceService(db, seqRepo, cfg, log)
	allocator := service.NewAllocatorService(db, batchRepo, allocRepo, publisher, log)
	lifecycle := service.NewLifecycleService(db, batchRepo, sequence, publisher, cfg, log)
	reservations := service.NewReservationService(db, resRepo, batchRepo, allocator, publisher, cfg, log)
	repack := service.NewRepackService(db, batchRepo, repackRepo, sequence, publisher, log)
	scheduler := service.NewSweepScheduler(reservations, lifecycle, cfg.SweepInterval, log)

	return &Core{
		Sequence:     sequence,
		Lifecycle:    lifecycle,
		Allocator:    allocator,
		Reservations: reservations,
		Repack:       repack,
		Scheduler:    scheduler,
	}
}
