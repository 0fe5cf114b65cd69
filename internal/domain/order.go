package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the broker-side lifecycle of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// OrderHandle identifies a submitted order.
type OrderHandle struct {
	OrderID     string    `json:"orderId"`
	ClientID    string    `json:"clientId"`
	Code        string    `json:"code"`
	Side        Side      `json:"side"`
	Quantity    int64     `json:"qty"`
	Price       float64   `json:"price"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// OrderFill is the broker's record of an order's executions.
type OrderFill struct {
	OrderID   string      `json:"orderId"`
	ClientID  string      `json:"clientId"`
	Code      string      `json:"code"`
	Side      Side        `json:"side"`
	Status    OrderStatus `json:"status"`
	FillPrice float64     `json:"fillPrice"`
	FillQty   int64       `json:"fillQty"`
	Time      time.Time   `json:"time"`
}

// OrderQuery filters the broker's order history.
type OrderQuery struct {
	Code     string
	Side     Side
	Status   OrderStatus // empty means any
	Lookback time.Duration
	OrderID  string // empty means any
	ClientID string // empty means any
}

// Holding is one broker position.
type Holding struct {
	Code     string  `json:"code"`
	Quantity int64   `json:"qty"`
	AvgPrice float64 `json:"avgPrice"`
}

// Balance is the broker's cash view for one currency.
type Balance struct {
	Total float64 `json:"total"`
	Cash  float64 `json:"cash"`
}

// PendingOrder is a submitted order whose fill was not confirmed before the
// confirmation timeout.
type PendingOrder struct {
	OrderHandle
	Slot int `json:"slot"`
	// HeldBefore is the broker quantity observed before submission.
	HeldBefore int64      `json:"heldBefore"`
	Reason     ExitReason `json:"reason,omitempty"`
	// Reentry marks a slot-1 buy after a profitable close.
	Reentry bool    `json:"reentry,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Expired reports whether the order is older than maxAge at now.
func (p PendingOrder) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(p.SubmittedAt) > maxAge
}
