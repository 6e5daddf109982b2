package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RepackingRecord links a damaged parent batch to its single repacked child.
// The damaged/repacked gap is the written-off loss; it lives only here.
type RepackingRecord struct {
	ID               string          `db:"id" json:"id"`
	ParentBatchID    string          `db:"parent_batch_id" json:"parent_batch_id"`
	ChildBatchID     string          `db:"child_batch_id" json:"child_batch_id"`
	DamagedQuantity  decimal.Decimal `db:"damaged_quantity" json:"damaged_quantity"`
	RepackedQuantity decimal.Decimal `db:"repacked_quantity" json:"repacked_quantity"`
	Reason           string          `db:"reason" json:"reason"`
	CreatedBy        string          `db:"created_by" json:"created_by"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// LossQuantity is the damaged stock that did not survive repacking.
func (rec *RepackingRecord) LossQuantity() decimal.Decimal {
	return rec.DamagedQuantity.Sub(rec.RepackedQuantity)
}

// RepackingRepository handles repacking record persistence
type RepackingRepository struct {
	db runner
}

// NewRepackingRepository creates a new repacking repository
func NewRepackingRepository(db *database.DB) *RepackingRepository {
	return &RepackingRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *RepackingRepository) WithTx(tx *sqlx.Tx) *RepackingRepository {
	return &RepackingRepository{db: tx}
}

// Create inserts a repacking record. The unique constraint on parent_batch_id
// backs the at-most-one-child rule even if two repacks race.
func (r *RepackingRepository) Create(ctx context.Context, rec *RepackingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO repacking_records (
			id, parent_batch_id, child_batch_id, damaged_quantity,
			repacked_quantity, reason, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		rec.ID, rec.ParentBatchID, rec.ChildBatchID, rec.DamagedQuantity,
		rec.RepackedQuantity, rec.Reason, rec.CreatedBy,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "parent_batch") {
			return errors.Wrap(errors.ErrDuplicateRepack, "DUPLICATE_REPACK", "batch already has a repacked descendant")
		}
		return err
	}
	return nil
}

// GetByParent returns the repacking record for a parent batch, if any
func (r *RepackingRepository) GetByParent(ctx context.Context, parentBatchID string) (*RepackingRecord, error) {
	var rec RepackingRecord
	query := `SELECT * FROM repacking_records WHERE parent_batch_id = $1`
	if err := r.db.GetContext(ctx, &rec, query, parentBatchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("repacking record")
		}
		return nil, err
	}
	return &rec, nil
}

// ExistsForParent reports whether a parent batch already has a child
func (r *RepackingRepository) ExistsForParent(ctx context.Context, parentBatchID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM repacking_records WHERE parent_batch_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, parentBatchID); err != nil {
		return false, err
	}
	return exists, nil
}
