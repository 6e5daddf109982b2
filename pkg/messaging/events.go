package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the ledger core. Collaborating modules (receiving,
// grading, packing, order allocation, wastage) bind queues on these keys.
const (
	EventBatchReceived      = "ledger.batch.received"
	EventBatchStatusChanged = "ledger.batch.status_changed"
	EventBatchArchived      = "ledger.batch.archived"
	EventBatchRepacked      = "ledger.batch.repacked"

	EventStockAllocated = "ledger.stock.allocated"

	EventReservationCreated   = "ledger.reservation.created"
	EventReservationConfirmed = "ledger.reservation.confirmed"
	EventReservationCancelled = "ledger.reservation.cancelled"
	EventReservationExpired   = "ledger.reservation.expired"
)

// Exchange names
const (
	ExchangeLedgerEvents = "ledger.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Ledger events

// BatchReceivedEvent is published when a new lot is receipted and numbered
type BatchReceivedEvent struct {
	BatchID          string `json:"batch_id"`
	BatchNumber      string `json:"batch_number"`
	ItemID           string `json:"item_id"`
	ReceivedQuantity string `json:"received_quantity"`
	Unit             string `json:"unit"`
	UnitCost         string `json:"unit_cost"`
}

// BatchStatusChangedEvent is published on every lifecycle transition
type BatchStatusChangedEvent struct {
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	ActorID     string `json:"actor_id"`
}

// BatchRepackedEvent is published when a damaged batch is split into a child
type BatchRepackedEvent struct {
	ParentBatchID     string `json:"parent_batch_id"`
	ParentBatchNumber string `json:"parent_batch_number"`
	ChildBatchID      string `json:"child_batch_id"`
	ChildBatchNumber  string `json:"child_batch_number"`
	DamagedQuantity   string `json:"damaged_quantity"`
	RepackedQuantity  string `json:"repacked_quantity"`
	LossQuantity      string `json:"loss_quantity"`
	Reason            string `json:"reason"`
}

// StockAllocatedEvent is published after a FIFO deduction commits
type StockAllocatedEvent struct {
	AllocationID  string               `json:"allocation_id"`
	Reference     string               `json:"reference"`
	ReferenceType string               `json:"reference_type"`
	Items         []AllocatedItemEvent `json:"items"`
}

// AllocatedItemEvent is one item's slice of a stock allocation
type AllocatedItemEvent struct {
	ItemID          string `json:"item_id"`
	Quantity        string `json:"quantity"`
	TotalCost       string `json:"total_cost"`
	WeightedAvgCost string `json:"weighted_avg_cost"`
	BatchCount      int    `json:"batch_count"`
}

// ReservationEvent covers the created/confirmed/cancelled/expired lifecycle
type ReservationEvent struct {
	ReservationID string     `json:"reservation_id"`
	ItemID        string     `json:"item_id"`
	Quantity      string     `json:"quantity"`
	Status        string     `json:"status"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	ReferenceType string     `json:"reference_type,omitempty"`
}
