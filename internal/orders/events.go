package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCancelled = "OrderCancelled"
)

// Order sources carried in OrderCreatedPayload.
const (
	SourceDirect        = "direct"
	SourceCartSelection = "cart_selection"
	SourceCart          = "cart"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type ItemPrice struct {
	ItemID    string `json:"item_id"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	MemberID   string      `json:"member_id"`
	Source     string      `json:"source"`
	Items      []ItemPrice `json:"items"`
	TotalPrice int64       `json:"total_price"`
}

type OrderCancelledPayload struct {
	OrderID   string    `json:"order_id"`
	MemberID  string    `json:"member_id"`
	Restocked []ItemQty `json:"restocked"`
}
