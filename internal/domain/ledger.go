package domain

import (
	"errors"
	"fmt"
	"time"
)

// Ledger is the durable document the bot owns: every tracked instrument plus
// the orders still waiting for a fill.
type Ledger struct {
	Instruments []*Instrument           `json:"instruments"`
	Pending     map[string]PendingOrder `json:"pendingOrders"`
	DailyTrades DailyCounter            `json:"dailyTrades"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{Pending: make(map[string]PendingOrder)}
}

// Get returns the instrument with the given code, or nil.
func (l *Ledger) Get(code string) *Instrument {
	for _, in := range l.Instruments {
		if in.Code == code {
			return in
		}
	}
	return nil
}

// Ensure returns the instrument for code, onboarding it with n empty tranches
// if it is not tracked yet. The display name is refreshed when given.
func (l *Ledger) Ensure(code, name string, n int) *Instrument {
	if in := l.Get(code); in != nil {
		if name != "" {
			in.Name = name
		}
		return in
	}
	in := NewInstrument(code, name, n)
	l.Instruments = append(l.Instruments, in)
	return in
}

// PendingFor returns the pending order for an instrument, if any.
func (l *Ledger) PendingFor(code string) (PendingOrder, bool) {
	if l.Pending == nil {
		return PendingOrder{}, false
	}
	p, ok := l.Pending[code]
	return p, ok
}

// AddPending records a pending order. Only one per instrument is allowed.
func (l *Ledger) AddPending(p PendingOrder) error {
	if l.Pending == nil {
		l.Pending = make(map[string]PendingOrder)
	}
	if existing, ok := l.Pending[p.Code]; ok {
		return fmt.Errorf("%s: order %s already pending", p.Code, existing.OrderID)
	}
	l.Pending[p.Code] = p
	return nil
}

// ResolvePending drops the pending order for code.
func (l *Ledger) ResolvePending(code string) {
	delete(l.Pending, code)
}

// RealizedPnL sums realized profit across instruments.
func (l *Ledger) RealizedPnL() float64 {
	var total float64
	for _, in := range l.Instruments {
		total += in.RealizedPnL
	}
	return total
}

// CostBasis sums committed capital across instruments.
func (l *Ledger) CostBasis() float64 {
	var total float64
	for _, in := range l.Instruments {
		total += in.CostBasis()
	}
	return total
}

// Validate checks every instrument and the pending-order index.
func (l *Ledger) Validate() error {
	if l == nil {
		return errors.New("nil ledger")
	}
	seen := make(map[string]bool, len(l.Instruments))
	for _, in := range l.Instruments {
		if in == nil {
			return errors.New("nil instrument")
		}
		if seen[in.Code] {
			return fmt.Errorf("duplicate instrument %s", in.Code)
		}
		seen[in.Code] = true
		if err := in.Validate(); err != nil {
			return err
		}
	}
	for code, p := range l.Pending {
		if p.Code != code {
			return fmt.Errorf("pending order %s filed under %s", p.OrderID, code)
		}
		if p.Quantity <= 0 {
			return fmt.Errorf("pending order %s: %w", p.OrderID, ErrBadQuantity)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Instruments: make([]*Instrument, len(l.Instruments)),
		Pending:     make(map[string]PendingOrder, len(l.Pending)),
		DailyTrades: l.DailyTrades,
		UpdatedAt:   l.UpdatedAt,
	}
	for i, in := range l.Instruments {
		out.Instruments[i] = in.Clone()
	}
	for k, v := range l.Pending {
		out.Pending[k] = v
	}
	return out
}
