package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/jmoiron/sqlx"
)

// SequenceCounter is the singleton-per-prefix counter behind batch numbering.
// It is owned exclusively by the sequence service; nothing else mutates it.
type SequenceCounter struct {
	Prefix        string    `db:"prefix" json:"prefix"`
	CurrentNumber int64     `db:"current_number" json:"current_number"`
	FinancialYear string    `db:"financial_year" json:"financial_year"`
	FYStartDate   time.Time `db:"fy_start_date" json:"fy_start_date"`
	FYEndDate     time.Time `db:"fy_end_date" json:"fy_end_date"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// SequenceRepository handles sequence counter persistence
type SequenceRepository struct {
	db runner
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *SequenceRepository) WithTx(tx *sqlx.Tx) *SequenceRepository {
	return &SequenceRepository{db: tx}
}

// GetForUpdate locks the counter row for the prefix. NOWAIT surfaces
// contention immediately so the caller's bounded retry loop owns the waiting.
func (r *SequenceRepository) GetForUpdate(ctx context.Context, prefix string) (*SequenceCounter, error) {
	var counter SequenceCounter
	query := `SELECT * FROM sequence_counters WHERE prefix = $1 FOR UPDATE NOWAIT`
	if err := r.db.GetContext(ctx, &counter, query, prefix); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("sequence counter")
		}
		return nil, err
	}
	return &counter, nil
}

// Insert seeds a counter row for a prefix. A concurrent seeding attempt is
// not an error; the caller re-reads under lock afterwards.
func (r *SequenceRepository) Insert(ctx context.Context, counter *SequenceCounter) error {
	query := `
		INSERT INTO sequence_counters (prefix, current_number, financial_year, fy_start_date, fy_end_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (prefix) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		counter.Prefix, counter.CurrentNumber, counter.FinancialYear,
		counter.FYStartDate, counter.FYEndDate,
	)
	return err
}

// Save writes back a counter mutated under lock
func (r *SequenceRepository) Save(ctx context.Context, counter *SequenceCounter) error {
	query := `
		UPDATE sequence_counters
		SET current_number = $2, financial_year = $3, fy_start_date = $4,
		    fy_end_date = $5, updated_at = NOW()
		WHERE prefix = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		counter.Prefix, counter.CurrentNumber, counter.FinancialYear,
		counter.FYStartDate, counter.FYEndDate,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("sequence counter")
	}
	return nil
}
