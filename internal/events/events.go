// Package events publishes domain events after the transaction that caused
// them has committed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	OrderCreated         = "order.created"
	OrderPurchased       = "order.purchased"
	OrderReturned        = "order.returned"
	OrderDeleted         = "order.deleted"
	InventoryTransferred = "inventory.transferred"
	InventoryLowStock    = "inventory.low_stock"
	ShipmentDispatched   = "shipment.dispatched"
	ShipmentArrived      = "shipment.arrived"
	ShipmentDeleted      = "shipment.deleted"
)

const producerName = "serene-backend"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload. key is the aggregate id and doubles as the
// correlation id.
func NewEnvelope(eventType string, key string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: key,
		Payload:       raw,
	}, nil
}

// Publisher must not block the caller. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, key string, payload any)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) {}

type OrderEvent struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	Product  string `json:"product"`
	Qty      int    `json:"qty"`
	Source   string `json:"source"`
	Status   string `json:"status"`
	Restored bool   `json:"restored,omitempty"`
	Warning  string `json:"warning,omitempty"`
	ExtraQty int    `json:"extra_qty,omitempty"`
}

type TransferEvent struct {
	UsaItemID string `json:"usa_item_id"`
	BdItemID  string `json:"bd_item_id"`
	Product   string `json:"product"`
	Qty       int    `json:"qty"`
	Remaining int    `json:"usa_remaining"`
	// ShipmentID is set when the transfer happened as part of an arrival.
	ShipmentID string `json:"shipment_id,omitempty"`
}

type ShipmentEvent struct {
	ShipmentID      string `json:"shipment_id"`
	Status          string `json:"status"`
	OrdersUpdated   int    `json:"orders_updated"`
	StockItemsMoved int    `json:"stock_items_moved,omitempty"`
}

type LowStockEvent struct {
	Threshold int         `json:"threshold"`
	Items     []StockItem `json:"items"`
}

type StockItem struct {
	ItemID   string `json:"item_id"`
	Location string `json:"location"`
	Product  string `json:"product"`
	Qty      int    `json:"qty"`
}
