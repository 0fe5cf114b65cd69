package domain

import "time"

// TradeEvent is a journal line for a confirmed fill.
type TradeEvent struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Slot        int        `json:"slot"`
	Side        Side       `json:"side"`
	Quantity    int64      `json:"qty"`
	Price       float64    `json:"price"`
	OrderID     string     `json:"orderId"`
	Reason      ExitReason `json:"reason,omitempty"`
	Score       float64    `json:"score,omitempty"`
	RealizedPnL float64    `json:"realizedPnl,omitempty"`
	At          time.Time  `json:"at"`
}

// AlertLevel grades an operator alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a message for the operator.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Code    string     `json:"code,omitempty"`
	Kind    Kind       `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// CycleSummary is the journal row written after each tick.
type CycleSummary struct {
	StartedAt   time.Time
	Duration    time.Duration
	Budget      float64
	Entries     int
	Exits       int
	Errors      int
	MarketOpen  bool
	RealizedPnL float64
}
