package service

import (
	"database/sql/driver"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/testutil"
	"github.com/shopspring/decimal"
)

func sqlmockResult(rows int64) driver.Result {
	return sqlmock.NewResult(0, rows)
}

func batchColumns() []string {
	return []string{
		"id", "batch_number", "item_id", "unit", "received_quantity",
		"remaining_quantity", "unit_cost", "status", "received_at",
		"delivered_at", "archived_at", "is_repacked", "parent_batch_id",
		"created_by", "created_at", "updated_at",
	}
}

// batchRow returns the row values for a plain, never-repacked batch.
func batchRow(id, number, itemID, remaining, unitCost string, status repository.BatchStatus, receivedAt time.Time) []driver.Value {
	return []driver.Value{
		id, number, itemID, "kg", remaining, remaining, unitCost,
		string(status), receivedAt, nil, nil, false, nil,
		"00000000-0000-0000-0000-000000000000", receivedAt, receivedAt,
	}
}

func batchRows(rows ...[]driver.Value) *sqlmock.Rows {
	r := testutil.MockRows(batchColumns()...)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func reservationColumns() []string {
	return []string{
		"id", "item_id", "quantity", "status", "reserved_until",
		"reference", "reference_type", "created_by", "created_at", "updated_at",
	}
}

func reservationRow(id, itemID, quantity string, status repository.ReservationStatus, until time.Time) []driver.Value {
	return []driver.Value{
		id, itemID, quantity, string(status), until,
		"ORD-1", "order", "00000000-0000-0000-0000-000000000000",
		until.Add(-time.Hour), until.Add(-time.Hour),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
