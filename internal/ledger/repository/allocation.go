package repository

import (
	"context"
	"time"

	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// StockAllocation is the header record of one committed FIFO deduction. The
// reference/reference_type pair is an opaque pointer into the owning module
// (order, wastage ticket, reservation) with no structural coupling.
type StockAllocation struct {
	ID            string    `db:"id" json:"id"`
	Reference     string    `db:"reference" json:"reference"`
	ReferenceType string    `db:"reference_type" json:"reference_type"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AllocationLine records one batch's contribution to an allocation.
type AllocationLine struct {
	ID           string          `db:"id" json:"id"`
	AllocationID string          `db:"allocation_id" json:"allocation_id"`
	ItemID       string          `db:"item_id" json:"item_id"`
	BatchID      string          `db:"batch_id" json:"batch_id"`
	BatchNumber  string          `db:"batch_number" json:"batch_number"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineCost     decimal.Decimal `db:"line_cost" json:"line_cost"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// AllocationRepository handles allocation record persistence
type AllocationRepository struct {
	db runner
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *database.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *AllocationRepository) WithTx(tx *sqlx.Tx) *AllocationRepository {
	return &AllocationRepository{db: tx}
}

// CreateAllocation inserts an allocation header
func (r *AllocationRepository) CreateAllocation(ctx context.Context, alloc *StockAllocation) error {
	if alloc.ID == "" {
		alloc.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_allocations (id, reference, reference_type, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	return r.db.QueryRowxContext(ctx, query,
		alloc.ID, alloc.Reference, alloc.ReferenceType, alloc.CreatedBy,
	).Scan(&alloc.CreatedAt)
}

// CreateLine inserts one allocation line
func (r *AllocationRepository) CreateLine(ctx context.Context, line *AllocationLine) error {
	if line.ID == "" {
		line.ID = uuid.New().String()
	}

	query := `
		INSERT INTO allocation_lines (
			id, allocation_id, item_id, batch_id, batch_number,
			quantity, unit_cost, line_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRowxContext(ctx, query,
		line.ID, line.AllocationID, line.ItemID, line.BatchID, line.BatchNumber,
		line.Quantity, line.UnitCost, line.LineCost,
	).Scan(&line.CreatedAt)
}

// ListLines returns the lines of an allocation in insertion order
func (r *AllocationRepository) ListLines(ctx context.Context, allocationID string) ([]*AllocationLine, error) {
	var lines []*AllocationLine
	query := `
		SELECT * FROM allocation_lines
		WHERE allocation_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &lines, query, allocationID); err != nil {
		return nil, err
	}
	return lines, nil
}
