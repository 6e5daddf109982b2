package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// BatchStatus is a batch's position in its lifecycle.
type BatchStatus string

// Lifecycle states in forward order. Only direct-successor transitions are
// permitted, and archived is reachable solely through the archival sweep.
const (
	StatusOrdered     BatchStatus = "ordered"
	StatusReceived    BatchStatus = "received"
	StatusInGrading   BatchStatus = "in_grading"
	StatusInPacking   BatchStatus = "in_packing"
	StatusInInventory BatchStatus = "in_inventory"
	StatusAllocated   BatchStatus = "allocated"
	StatusInTransit   BatchStatus = "in_transit"
	StatusDelivered   BatchStatus = "delivered"
	StatusArchived    BatchStatus = "archived"
)

var statusOrder = []BatchStatus{
	StatusOrdered,
	StatusReceived,
	StatusInGrading,
	StatusInPacking,
	StatusInInventory,
	StatusAllocated,
	StatusInTransit,
	StatusDelivered,
	StatusArchived,
}

// Valid reports whether s is a known lifecycle state.
func (s BatchStatus) Valid() bool {
	for _, st := range statusOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Next returns the direct successor state. ok is false for archived (terminal)
// and unknown states.
func (s BatchStatus) Next() (BatchStatus, bool) {
	for i, st := range statusOrder {
		if st == s && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// Batch represents one tracked lot of stock.
type Batch struct {
	ID                string          `db:"id" json:"id"`
	BatchNumber       string          `db:"batch_number" json:"batch_number"`
	ItemID            string          `db:"item_id" json:"item_id"`
	Unit              string          `db:"unit" json:"unit"`
	ReceivedQuantity  decimal.Decimal `db:"received_quantity" json:"received_quantity"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Status            BatchStatus     `db:"status" json:"status"`
	ReceivedAt        time.Time       `db:"received_at" json:"received_at"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ArchivedAt        *time.Time      `db:"archived_at" json:"archived_at,omitempty"`
	IsRepacked        bool            `db:"is_repacked" json:"is_repacked"`
	ParentBatchID     *string         `db:"parent_batch_id" json:"parent_batch_id,omitempty"`
	CreatedBy         string          `db:"created_by" json:"created_by"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// BatchStatusEvent is one append-only row of the lifecycle audit trail.
type BatchStatusEvent struct {
	ID         string      `db:"id" json:"id"`
	BatchID    string      `db:"batch_id" json:"batch_id"`
	FromStatus BatchStatus `db:"from_status" json:"from_status"`
	ToStatus   BatchStatus `db:"to_status" json:"to_status"`
	ActorID    string      `db:"actor_id" json:"actor_id"`
	OccurredAt time.Time   `db:"occurred_at" json:"occurred_at"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db runner
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *BatchRepository) WithTx(tx *sqlx.Tx) *BatchRepository {
	return &BatchRepository{db: tx}
}

// Create inserts a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batches (
			id, batch_number, item_id, unit, received_quantity, remaining_quantity,
			unit_cost, status, received_at, is_repacked, parent_batch_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.BatchNumber, batch.ItemID, batch.Unit,
		batch.ReceivedQuantity, batch.RemainingQuantity, batch.UnitCost,
		batch.Status, batch.ReceivedAt, batch.IsRepacked, batch.ParentBatchID,
		batch.CreatedBy,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "batch_number") {
			return errors.Conflict("a batch with this number already exists")
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetByNumber gets a batch by its human-readable number
func (r *BatchRepository) GetByNumber(ctx context.Context, batchNumber string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE batch_number = $1`
	if err := r.db.GetContext(ctx, &batch, query, batchNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetForUpdate locks a batch row for the duration of the transaction
func (r *BatchRepository) GetForUpdate(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1 FOR UPDATE`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByItem lists non-archived batches for an item in receipt order
func (r *BatchRepository) ListByItem(ctx context.Context, itemID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE item_id = $1 AND status <> 'archived'
		ORDER BY received_at, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, itemID); err != nil {
		return nil, err
	}
	return batches, nil
}

// SelectEligibleForUpdate locks and returns the batches the FIFO allocator may
// draw from: non-archived rows with stock remaining, repacked children first
// (they are closest to end-of-life), then strict receipt order.
func (r *BatchRepository) SelectEligibleForUpdate(ctx context.Context, itemID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE item_id = $1 AND status <> 'archived' AND remaining_quantity > 0
		ORDER BY is_repacked DESC, received_at, id
		FOR UPDATE
	`
	if err := r.db.SelectContext(ctx, &batches, query, itemID); err != nil {
		return nil, err
	}
	return batches, nil
}

// DecrementRemaining subtracts qty from a batch's remaining quantity. The
// guard keeps remaining from ever going negative even under a logic bug.
func (r *BatchRepository) DecrementRemaining(ctx context.Context, id string, qty decimal.Decimal) error {
	query := `
		UPDATE batches
		SET remaining_quantity = remaining_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND remaining_quantity >= $2
	`
	result, err := r.db.ExecContext(ctx, query, id, qty)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("batch remaining quantity changed concurrently")
	}
	return nil
}

// UpdateStatus moves a batch from one status to another. The WHERE clause on
// the current status makes concurrent transitions lose cleanly.
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, from, to BatchStatus) error {
	query := `
		UPDATE batches
		SET status = $3,
		    delivered_at = CASE WHEN $3 = 'delivered' THEN NOW() ELSE delivered_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("batch status changed concurrently")
	}
	return nil
}

// InsertStatusEvent appends a lifecycle audit row
func (r *BatchRepository) InsertStatusEvent(ctx context.Context, ev *BatchStatusEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batch_status_events (id, batch_id, from_status, to_status, actor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING occurred_at
	`
	return r.db.QueryRowxContext(ctx, query,
		ev.ID, ev.BatchID, ev.FromStatus, ev.ToStatus, ev.ActorID,
	).Scan(&ev.OccurredAt)
}

// ListStatusEvents returns the audit trail for a batch, oldest first
func (r *BatchRepository) ListStatusEvents(ctx context.Context, batchID string) ([]*BatchStatusEvent, error) {
	var events []*BatchStatusEvent
	query := `
		SELECT * FROM batch_status_events
		WHERE batch_id = $1
		ORDER BY occurred_at, id
	`
	if err := r.db.SelectContext(ctx, &events, query, batchID); err != nil {
		return nil, err
	}
	return events, nil
}

// SelectArchivable returns ids of delivered batches whose dwell time has
// elapsed, bounded by limit so sweeps commit in small chunks.
func (r *BatchRepository) SelectArchivable(ctx context.Context, deliveredBefore time.Time, limit int) ([]string, error) {
	var ids []string
	query := `
		SELECT id FROM batches
		WHERE status = 'delivered' AND delivered_at <= $1
		ORDER BY delivered_at
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &ids, query, deliveredBefore, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// ArchiveByIDs archives the given batches. Rows that are no longer delivered
// are skipped, which keeps the sweep idempotent. Returns the archived ids.
func (r *BatchRepository) ArchiveByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var archived []string
	query := `
		UPDATE batches
		SET status = 'archived', archived_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1) AND status = 'delivered'
		RETURNING id
	`
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		archived = append(archived, id)
	}
	return archived, rows.Err()
}

// SumRemainingByItem sums remaining quantity over an item's non-archived batches
func (r *BatchRepository) SumRemainingByItem(ctx context.Context, itemID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := `
		SELECT SUM(remaining_quantity) FROM batches
		WHERE item_id = $1 AND status <> 'archived'
	`
	if err := r.db.GetContext(ctx, &total, query, itemID); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
