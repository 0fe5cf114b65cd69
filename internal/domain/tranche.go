package domain

import (
	"fmt"
	"time"
)

// Stage is the partial-sell stage of an occupied tranche.
type Stage int

const (
	StageOpen       Stage = 0 // fresh entry, nothing sold yet
	StageFirstTrim  Stage = 1
	StageSecondTrim Stage = 2
	StageClosed     Stage = 3
)

func (s Stage) String() string {
	switch s {
	case StageOpen:
		return "open"
	case StageFirstTrim:
		return "trim1"
	case StageSecondTrim:
		return "trim2"
	case StageClosed:
		return "closed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ExitReason labels why a sale happened.
type ExitReason string

const (
	ReasonLadderStep1     ExitReason = "ladder_t1"
	ReasonLadderStep2     ExitReason = "ladder_t2"
	ReasonLadderFinal     ExitReason = "ladder_t3"
	ReasonTrailingStop    ExitReason = "trailing_stop"
	ReasonCapitalPressure ExitReason = "capital_pressure"
	ReasonStopLoss        ExitReason = "stop_loss"
	ReasonReconcile       ExitReason = "reconcile"
)

// SaleRecord is one confirmed sell fill against a tranche.
type SaleRecord struct {
	Slot        int        `json:"slot"`
	Date        time.Time  `json:"date"`
	Price       float64    `json:"price"`
	Quantity    int64      `json:"qty"`
	EntryPrice  float64    `json:"entryPrice"`
	ReturnPct   float64    `json:"returnPct"`
	RealizedPnL float64    `json:"realizedPnl"`
	Reason      ExitReason `json:"reason"`
	Stage       Stage      `json:"stage"`
	// Closing is true when the sale brought the tranche to zero.
	Closing bool `json:"closing"`
}

// Tranche is one slot of a pyramided position.
type Tranche struct {
	Slot               int          `json:"slot"`
	Occupied           bool         `json:"occupied"`
	EntryPrice         float64      `json:"entryPrice"`
	EntryQty           int64        `json:"entryQty"`
	CurrentQty         int64        `json:"currentQty"`
	OriginalQty        int64        `json:"originalQty"`
	EntryDate          time.Time    `json:"entryDate"`
	Stage              Stage        `json:"stage"`
	RemainingRatio     float64      `json:"remainingRatio"`
	PeakReturn         float64      `json:"peakReturn"`
	SellHistory        []SaleRecord `json:"sellHistory"`
	PartialSellHistory []SaleRecord `json:"partialSellHistory"`
}

// ReturnPct is the unrealized return of the tranche at price, in percent.
func (t *Tranche) ReturnPct(price float64) float64 {
	if !t.Occupied || t.EntryPrice <= 0 {
		return 0
	}
	return (price - t.EntryPrice) * 100 / t.EntryPrice
}

// CostBasis is the capital still committed in the tranche.
func (t *Tranche) CostBasis() float64 {
	return t.EntryPrice * float64(t.CurrentQty)
}

// ObservePeak raises the running peak if price beats it. Returns true when the
// peak moved.
func (t *Tranche) ObservePeak(price float64) bool {
	if !t.Occupied {
		return false
	}
	r := t.ReturnPct(price)
	if r > t.PeakReturn {
		t.PeakReturn = r
		return true
	}
	return false
}

func (t *Tranche) open(price float64, qty int64, at time.Time) {
	t.Occupied = true
	t.EntryPrice = price
	t.EntryQty = qty
	t.CurrentQty = qty
	t.OriginalQty = qty
	t.EntryDate = at
	t.Stage = StageOpen
	t.RemainingRatio = 1
	t.PeakReturn = 0
	t.SellHistory = nil
	t.PartialSellHistory = nil
}

// clear empties the slot for reuse. Stage stays at closed until the next entry.
func (t *Tranche) clear() {
	t.Occupied = false
	t.EntryPrice = 0
	t.EntryQty = 0
	t.CurrentQty = 0
	t.OriginalQty = 0
	t.EntryDate = time.Time{}
	t.Stage = StageClosed
	t.RemainingRatio = 0
	t.PeakReturn = 0
	t.SellHistory = nil
	t.PartialSellHistory = nil
}

func (t *Tranche) syncRatio() {
	if t.OriginalQty > 0 {
		t.RemainingRatio = float64(t.CurrentQty) / float64(t.OriginalQty)
	} else {
		t.RemainingRatio = 0
	}
}

func (t *Tranche) validate() error {
	if t.Occupied != (t.CurrentQty > 0) {
		return fmt.Errorf("slot %d: occupied=%v with qty %d", t.Slot, t.Occupied, t.CurrentQty)
	}
	if t.CurrentQty < 0 || t.OriginalQty < 0 {
		return fmt.Errorf("slot %d: negative quantity", t.Slot)
	}
	if t.Stage < StageOpen || t.Stage > StageClosed {
		return fmt.Errorf("slot %d: stage %d out of range", t.Slot, t.Stage)
	}
	if !t.Occupied {
		return nil
	}
	if t.CurrentQty > t.OriginalQty {
		return fmt.Errorf("slot %d: current qty %d above original %d", t.Slot, t.CurrentQty, t.OriginalQty)
	}
	if t.EntryPrice <= 0 {
		return fmt.Errorf("slot %d: occupied with entry price %.4f", t.Slot, t.EntryPrice)
	}
	want := float64(t.CurrentQty) / float64(t.OriginalQty)
	if diff := t.RemainingRatio - want; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("slot %d: remaining ratio %.6f, want %.6f", t.Slot, t.RemainingRatio, want)
	}
	if t.Stage == StageClosed {
		return fmt.Errorf("slot %d: occupied but stage closed", t.Slot)
	}
	return nil
}
