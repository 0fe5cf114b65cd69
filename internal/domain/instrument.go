package domain

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSlots is the number of tranches per instrument.
const DefaultSlots = 3

var (
	ErrSlotRange       = errors.New("slot out of range")
	ErrSlotOccupied    = errors.New("slot already occupied")
	ErrSlotEmpty       = errors.New("slot is empty")
	ErrPredecessorOpen = errors.New("previous slot not occupied")
	ErrBadQuantity     = errors.New("quantity must be positive")
	ErrBadPrice        = errors.New("price must be positive")
	ErrOversell        = errors.New("sale exceeds current quantity")
	ErrNotFlat         = errors.New("instrument still holds tranches")
)

// SyncInfo is the outcome of the last reconciliation pass on an instrument.
type SyncInfo struct {
	At             time.Time `json:"at"`
	BrokerQty      int64     `json:"brokerQty"`
	BrokerAvgPrice float64   `json:"brokerAvgPrice"`
	Outcome        string    `json:"outcome"`
}

// DailyCounter counts events for a single calendar day and resets itself when
// the day rolls over.
type DailyCounter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Value returns the count for the day containing now.
func (c DailyCounter) Value(now time.Time) int {
	if c.Date != DayKey(now) {
		return 0
	}
	return c.Count
}

// Inc records one event on the day containing now.
func (c *DailyCounter) Inc(now time.Time) {
	day := DayKey(now)
	if c.Date != day {
		c.Date = day
		c.Count = 0
	}
	c.Count++
}

// DayKey formats t as a calendar day in its own location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Instrument is the ledger record for one tradable instrument. Tranche
// mutations go through its methods so the slot invariants hold.
type Instrument struct {
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	Tranches          []*Tranche   `json:"tranches"`
	RealizedPnL       float64      `json:"realizedPnl"`
	GlobalSellHistory []SaleRecord `json:"globalSellHistory"`
	PeakReturn        float64      `json:"peakReturn"`
	LastSync          SyncInfo     `json:"lastSync"`

	// DrawdownSince is set while the whole position trades below its
	// capital-weighted average entry.
	DrawdownSince *time.Time   `json:"drawdownSince,omitempty"`
	DailyBuys     DailyCounter `json:"dailyBuys"`
	// LastReentryDay is the calendar day of the last slot-1 reentry after a
	// profitable close.
	LastReentryDay string `json:"lastReentryDay,omitempty"`
}

// NewInstrument creates an instrument with n empty tranches.
func NewInstrument(code, name string, n int) *Instrument {
	if n <= 0 {
		n = DefaultSlots
	}
	in := &Instrument{Code: code, Name: name, Tranches: make([]*Tranche, n)}
	for i := range in.Tranches {
		in.Tranches[i] = &Tranche{Slot: i + 1}
	}
	return in
}

// Slot returns the tranche for 1-based slot k, or nil.
func (in *Instrument) Slot(k int) *Tranche {
	if k < 1 || k > len(in.Tranches) {
		return nil
	}
	return in.Tranches[k-1]
}

// Occupied returns the occupied tranches in slot order.
func (in *Instrument) Occupied() []*Tranche {
	var out []*Tranche
	for _, t := range in.Tranches {
		if t.Occupied {
			out = append(out, t)
		}
	}
	return out
}

func (in *Instrument) OccupiedCount() int {
	return len(in.Occupied())
}

// IsFlat reports whether no tranche is occupied.
func (in *Instrument) IsFlat() bool {
	return in.OccupiedCount() == 0
}

// HeldQty is the ledger's belief about the broker-held quantity.
func (in *Instrument) HeldQty() int64 {
	var q int64
	for _, t := range in.Tranches {
		q += t.CurrentQty
	}
	return q
}

// CostBasis is the capital committed across occupied tranches.
func (in *Instrument) CostBasis() float64 {
	var c float64
	for _, t := range in.Tranches {
		if t.Occupied {
			c += t.CostBasis()
		}
	}
	return c
}

// AvgEntryPrice is the capital-weighted average entry across occupied tranches.
func (in *Instrument) AvgEntryPrice() float64 {
	qty := in.HeldQty()
	if qty == 0 {
		return 0
	}
	return in.CostBasis() / float64(qty)
}

// ReturnPct is the whole-position return at price against the weighted
// average entry, in percent.
func (in *Instrument) ReturnPct(price float64) float64 {
	avg := in.AvgEntryPrice()
	if avg <= 0 {
		return 0
	}
	return (price - avg) * 100 / avg
}

// ObservePrice updates tranche and position peaks and the drawdown clock.
// Returns true if any persisted field changed.
func (in *Instrument) ObservePrice(price float64, now time.Time) bool {
	changed := false
	for _, t := range in.Tranches {
		if t.ObservePeak(price) {
			changed = true
		}
	}
	if in.IsFlat() {
		if in.DrawdownSince != nil {
			in.DrawdownSince = nil
			changed = true
		}
		return changed
	}
	r := in.ReturnPct(price)
	if r > in.PeakReturn {
		in.PeakReturn = r
		changed = true
	}
	switch {
	case r < 0 && in.DrawdownSince == nil:
		at := now
		in.DrawdownSince = &at
		changed = true
	case r >= 0 && in.DrawdownSince != nil:
		in.DrawdownSince = nil
		changed = true
	}
	return changed
}

// CanOpen checks that slot k may take a fresh entry.
func (in *Instrument) CanOpen(k int) error {
	t := in.Slot(k)
	if t == nil {
		return fmt.Errorf("%s slot %d: %w", in.Code, k, ErrSlotRange)
	}
	if t.Occupied {
		return fmt.Errorf("%s slot %d: %w", in.Code, k, ErrSlotOccupied)
	}
	if k > 1 && !in.Slot(k-1).Occupied {
		return fmt.Errorf("%s slot %d: %w", in.Code, k, ErrPredecessorOpen)
	}
	return nil
}

// Open occupies slot k with a confirmed buy fill.
func (in *Instrument) Open(k int, price float64, qty int64, at time.Time) error {
	if err := in.CanOpen(k); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("%s slot %d: %w", in.Code, k, ErrBadQuantity)
	}
	if price <= 0 {
		return fmt.Errorf("%s slot %d: %w", in.Code, k, ErrBadPrice)
	}
	in.Slot(k).open(price, qty, at)
	return nil
}

// ApplySale books a confirmed sell fill against slot k. A sale that leaves
// quantity behind advances the stage by one; a sale that empties the tranche
// merges its history into the instrument and clears the slot.
func (in *Instrument) ApplySale(k int, qty int64, price float64, at time.Time, reason ExitReason, fees Fees) (SaleRecord, error) {
	t := in.Slot(k)
	if t == nil {
		return SaleRecord{}, fmt.Errorf("%s slot %d: %w", in.Code, k, ErrSlotRange)
	}
	if !t.Occupied {
		return SaleRecord{}, fmt.Errorf("%s slot %d: %w", in.Code, k, ErrSlotEmpty)
	}
	if qty <= 0 {
		return SaleRecord{}, fmt.Errorf("%s slot %d: %w", in.Code, k, ErrBadQuantity)
	}
	if price <= 0 {
		return SaleRecord{}, fmt.Errorf("%s slot %d: %w", in.Code, k, ErrBadPrice)
	}
	if qty > t.CurrentQty {
		return SaleRecord{}, fmt.Errorf("%s slot %d: sell %d of %d: %w", in.Code, k, qty, t.CurrentQty, ErrOversell)
	}

	rec := SaleRecord{
		Slot:        k,
		Date:        at,
		Price:       price,
		Quantity:    qty,
		EntryPrice:  t.EntryPrice,
		ReturnPct:   t.ReturnPct(price),
		RealizedPnL: fees.RealizedPnL(t.EntryPrice, price, qty),
		Reason:      reason,
		Stage:       t.Stage,
	}
	in.RealizedPnL += rec.RealizedPnL

	if qty < t.CurrentQty {
		t.CurrentQty -= qty
		if t.Stage < StageSecondTrim {
			t.Stage++
		}
		rec.Stage = t.Stage
		t.syncRatio()
		t.PartialSellHistory = append(t.PartialSellHistory, rec)
		return rec, nil
	}

	rec.Closing = true
	rec.Stage = StageClosed
	t.SellHistory = append(t.SellHistory, rec)
	in.GlobalSellHistory = append(in.GlobalSellHistory, t.PartialSellHistory...)
	in.GlobalSellHistory = append(in.GlobalSellHistory, t.SellHistory...)
	t.clear()
	if in.IsFlat() {
		in.PeakReturn = 0
		in.DrawdownSince = nil
	}
	return rec, nil
}

// LastClosingSale returns the most recent sale that emptied a tranche.
func (in *Instrument) LastClosingSale() (SaleRecord, bool) {
	for i := len(in.GlobalSellHistory) - 1; i >= 0; i-- {
		if in.GlobalSellHistory[i].Closing {
			return in.GlobalSellHistory[i], true
		}
	}
	return SaleRecord{}, false
}

// AdoptBrokerHolding places a holding the ledger does not know about into
// slot 1. The instrument must be flat.
func (in *Instrument) AdoptBrokerHolding(qty int64, avgPrice float64, entryDate time.Time) error {
	if !in.IsFlat() {
		return fmt.Errorf("%s: %w", in.Code, ErrNotFlat)
	}
	if qty <= 0 {
		return fmt.Errorf("%s: %w", in.Code, ErrBadQuantity)
	}
	if avgPrice <= 0 {
		return fmt.Errorf("%s: %w", in.Code, ErrBadPrice)
	}
	in.Slot(1).open(avgPrice, qty, entryDate)
	return nil
}

// ClearAll empties every tranche without booking sales and resets the peak
// trackers. Sales already booked on a slot move to the global history first.
// Used when the broker no longer holds the instrument.
func (in *Instrument) ClearAll() {
	for _, t := range in.Tranches {
		in.GlobalSellHistory = append(in.GlobalSellHistory, t.PartialSellHistory...)
		in.GlobalSellHistory = append(in.GlobalSellHistory, t.SellHistory...)
		t.SellHistory, t.PartialSellHistory = nil, nil
		if t.Occupied || t.CurrentQty != 0 {
			t.clear()
		}
	}
	in.PeakReturn = 0
	in.DrawdownSince = nil
}

// FixOccupancy repairs occupied flags that disagree with quantities. Prices
// and quantities are left alone.
func (in *Instrument) FixOccupancy() bool {
	fixed := false
	for _, t := range in.Tranches {
		want := t.CurrentQty > 0
		if t.Occupied == want {
			continue
		}
		t.Occupied = want
		if want {
			if t.OriginalQty < t.CurrentQty {
				t.OriginalQty = t.CurrentQty
			}
			if t.Stage == StageClosed {
				t.Stage = StageOpen
			}
			t.syncRatio()
		}
		fixed = true
	}
	return fixed
}

// ResyncSingle overwrites the only occupied tranche with the broker's
// quantity and average price.
func (in *Instrument) ResyncSingle(qty int64, avgPrice float64) error {
	occ := in.Occupied()
	if len(occ) != 1 {
		return fmt.Errorf("%s: resync needs exactly one occupied tranche, have %d", in.Code, len(occ))
	}
	if qty <= 0 {
		return fmt.Errorf("%s: %w", in.Code, ErrBadQuantity)
	}
	t := occ[0]
	t.CurrentQty = qty
	if qty > t.OriginalQty {
		t.OriginalQty = qty
		t.EntryQty = qty
	}
	if avgPrice > 0 {
		t.EntryPrice = avgPrice
	}
	t.syncRatio()
	return nil
}

// Validate checks the structural invariants of the record.
func (in *Instrument) Validate() error {
	if in.Code == "" {
		return errors.New("instrument without code")
	}
	if len(in.Tranches) == 0 {
		return fmt.Errorf("%s: no tranches", in.Code)
	}
	for i, t := range in.Tranches {
		if t == nil {
			return fmt.Errorf("%s: nil tranche at %d", in.Code, i)
		}
		if t.Slot != i+1 {
			return fmt.Errorf("%s: tranche %d has slot %d", in.Code, i+1, t.Slot)
		}
		if err := t.validate(); err != nil {
			return fmt.Errorf("%s: %w", in.Code, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (in *Instrument) Clone() *Instrument {
	out := *in
	out.Tranches = make([]*Tranche, len(in.Tranches))
	for i, t := range in.Tranches {
		c := *t
		c.SellHistory = append([]SaleRecord(nil), t.SellHistory...)
		c.PartialSellHistory = append([]SaleRecord(nil), t.PartialSellHistory...)
		out.Tranches[i] = &c
	}
	out.GlobalSellHistory = append([]SaleRecord(nil), in.GlobalSellHistory...)
	if in.DrawdownSince != nil {
		at := *in.DrawdownSince
		out.DrawdownSince = &at
	}
	return &out
}
