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

// ReservationStatus is a reservation's lifecycle state.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
	// ReservationFailed marks a confirm whose allocation lost a race to
	// concurrent drawdown. Terminal, like cancelled.
	ReservationFailed ReservationStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationPending
}

// Reservation is a time-bounded soft claim against an item's availability.
// It holds no batch rows; stock is materialized into batches only on confirm.
type Reservation struct {
	ID            string            `db:"id" json:"id"`
	ItemID        string            `db:"item_id" json:"item_id"`
	Quantity      decimal.Decimal   `db:"quantity" json:"quantity"`
	Status        ReservationStatus `db:"status" json:"status"`
	ReservedUntil time.Time         `db:"reserved_until" json:"reserved_until"`
	Reference     string            `db:"reference" json:"reference"`
	ReferenceType string            `db:"reference_type" json:"reference_type"`
	CreatedBy     string            `db:"created_by" json:"created_by"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// ReservationRepository handles reservation persistence
type ReservationRepository struct {
	db runner
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *ReservationRepository) WithTx(tx *sqlx.Tx) *ReservationRepository {
	return &ReservationRepository{db: tx}
}

// Create inserts a new pending reservation
func (r *ReservationRepository) Create(ctx context.Context, res *Reservation) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}

	query := `
		INSERT INTO reservations (
			id, item_id, quantity, status, reserved_until,
			reference, reference_type, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowxContext(ctx, query,
		res.ID, res.ItemID, res.Quantity, res.Status, res.ReservedUntil,
		res.Reference, res.ReferenceType, res.CreatedBy,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
}

// GetByID gets a reservation by ID
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*Reservation, error) {
	var res Reservation
	query := `SELECT * FROM reservations WHERE id = $1`
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("reservation")
		}
		return nil, err
	}
	return &res, nil
}

// GetForUpdate locks a reservation row for the duration of the transaction
func (r *ReservationRepository) GetForUpdate(ctx context.Context, id string) (*Reservation, error) {
	var res Reservation
	query := `SELECT * FROM reservations WHERE id = $1 FOR UPDATE`
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("reservation")
		}
		return nil, err
	}
	return &res, nil
}

// UpdateStatus moves a reservation between states. The WHERE clause on the
// current status means racing transitions on the same row lose cleanly
// instead of double-applying.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id string, from, to ReservationStatus) error {
	query := `
		UPDATE reservations
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("reservation status changed concurrently")
	}
	return nil
}

// SumPendingByItem sums quantity over an item's pending reservations
func (r *ReservationRepository) SumPendingByItem(ctx context.Context, itemID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := `
		SELECT SUM(quantity) FROM reservations
		WHERE item_id = $1 AND status = 'pending'
	`
	if err := r.db.GetContext(ctx, &total, query, itemID); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// SelectOverdueIDs returns pending reservations past their reserved_until,
// bounded by limit so the expiry sweep commits in small chunks.
func (r *ReservationRepository) SelectOverdueIDs(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	var ids []string
	query := `
		SELECT id FROM reservations
		WHERE status = 'pending' AND reserved_until < $1
		ORDER BY reserved_until
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &ids, query, asOf, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// ExpireByIDs expires the given reservations. Rows that are no longer pending
// (confirmed or cancelled since selection) are skipped, not errored, which is
// what makes the sweep idempotent and safe next to racing callers.
func (r *ReservationRepository) ExpireByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var expired []string
	query := `
		UPDATE reservations
		SET status = 'expired', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'pending'
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
		expired = append(expired, id)
	}
	return expired, rows.Err()
}
