// Package exit decides partial and full liquidations for occupied tranches.
package exit

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// eps absorbs float noise in percent-point comparisons.
const eps = 1e-9

// Input is everything the engine looks at for one instrument on one tick.
type Input struct {
	Instrument *domain.Instrument
	Snapshot   domain.Snapshot
	Regime     domain.Regime
	Allocation float64
	Now        time.Time
}

// Order is one sell the engine wants placed.
type Order struct {
	Slot      int
	Quantity  int64
	Reason    domain.ExitReason
	ReturnPct float64
	PeakPct   float64
	// Closing is true when the order sells everything left in the tranche.
	Closing bool
}

// Plan is the engine's verdict for one instrument.
type Plan struct {
	Code           string
	Orders         []Order
	StopLoss       bool
	StopLine       float64
	PositionReturn float64
	Utilization    float64
}

// Engine evaluates exits. It does not mutate the ledger; peaks are expected
// to be updated by the caller before Evaluate.
type Engine struct {
	cfg Config
}

// New creates an exit engine.
func New(cfg Config) *Engine {
	cfg.fill()
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate plans the sells for one instrument at the snapshot price.
func (e *Engine) Evaluate(in Input) Plan {
	inst := in.Instrument
	price := in.Snapshot.Price
	p := Plan{Code: inst.Code}

	occupied := inst.Occupied()
	if len(occupied) == 0 || price <= 0 {
		return p
	}
	if in.Allocation > 0 {
		p.Utilization = inst.CostBasis() / in.Allocation
	} else {
		p.Utilization = math.Inf(1)
	}

	p.PositionReturn = inst.ReturnPct(price)
	p.StopLine = StopLine(len(occupied), in.Snapshot.Volatility, drawdownDays(inst, in.Now), e.cfg)
	if p.PositionReturn <= p.StopLine+eps {
		p.StopLoss = true
		for _, t := range occupied {
			p.Orders = append(p.Orders, Order{
				Slot:      t.Slot,
				Quantity:  t.CurrentQty,
				Reason:    domain.ReasonStopLoss,
				ReturnPct: t.ReturnPct(price),
				PeakPct:   t.PeakReturn,
				Closing:   true,
			})
		}
		slog.Info("exit: whole-position stop loss",
			"code", inst.Code,
			"return", fmt.Sprintf("%.2f%%", p.PositionReturn),
			"line", fmt.Sprintf("%.2f%%", p.StopLine),
			"tranches", len(occupied),
		)
		return p
	}

	for _, t := range occupied {
		if o, ok := e.evaluateTranche(inst, t, price, in.Regime, p.Utilization); ok {
			p.Orders = append(p.Orders, o)
		}
	}
	return p
}

func (e *Engine) evaluateTranche(inst *domain.Instrument, t *domain.Tranche, price float64, regime domain.Regime, utilization float64) (Order, bool) {
	r := t.ReturnPct(price)
	peak := math.Max(t.PeakReturn, r)
	full := Order{Slot: t.Slot, Quantity: t.CurrentQty, ReturnPct: r, PeakPct: peak, Closing: true}

	t1, t2, t3 := e.targets(regime)

	if t.Stage >= domain.StageSecondTrim && r >= t3-eps {
		full.Reason = domain.ReasonLadderFinal
		return full, true
	}

	if t.Stage >= domain.StageFirstTrim && r >= 0 &&
		peak-r >= TrailingMargin(peak, regime, e.cfg)-eps && e.lifoClear(inst, t, price) {
		full.Reason = domain.ReasonTrailingStop
		return full, true
	}

	if e.pressureFires(r, peak, utilization) {
		full.Reason = domain.ReasonCapitalPressure
		return full, true
	}

	switch {
	case t.Stage == domain.StageOpen && r >= t1-eps:
		return e.partial(t, e.cfg.FirstFraction, domain.ReasonLadderStep1, r, peak), true
	case t.Stage == domain.StageFirstTrim && r >= t2-eps:
		return e.partial(t, e.cfg.SecondFraction, domain.ReasonLadderStep2, r, peak), true
	}
	return Order{}, false
}

// partial sizes a ladder sale as a fraction of the original quantity.
func (e *Engine) partial(t *domain.Tranche, fraction float64, reason domain.ExitReason, r, peak float64) Order {
	qty := int64(math.Round(float64(t.OriginalQty) * fraction))
	qty = max(qty, 1)
	o := Order{Slot: t.Slot, Quantity: qty, Reason: reason, ReturnPct: r, PeakPct: peak}
	if qty >= t.CurrentQty {
		o.Quantity = t.CurrentQty
		o.Closing = true
	}
	return o
}

func (e *Engine) targets(regime domain.Regime) (t1, t2, t3 float64) {
	mult := 1.0
	switch {
	case regime.Bullish():
		mult = e.cfg.BullTargetMult
	case regime.Bearish():
		mult = e.cfg.BearTargetMult
	}
	return e.cfg.T1 * mult, e.cfg.T2 * mult, e.cfg.T3 * mult
}

// lifoClear reports whether no tranche opened after t is materially under
// water.
func (e *Engine) lifoClear(inst *domain.Instrument, t *domain.Tranche, price float64) bool {
	for _, other := range inst.Occupied() {
		if other == t || !openedAfter(other, t) {
			continue
		}
		if other.ReturnPct(price) < -e.cfg.LIFOTolerance {
			return false
		}
	}
	return true
}

func openedAfter(a, b *domain.Tranche) bool {
	if a.EntryDate.Equal(b.EntryDate) {
		return a.Slot > b.Slot
	}
	return a.EntryDate.After(b.EntryDate)
}

// pressureFires applies the most permissive tier the utilization reaches.
func (e *Engine) pressureFires(r, peak, utilization float64) bool {
	if r < e.cfg.PressureFloor {
		return false
	}
	for _, tier := range e.cfg.PressureTiers {
		if utilization < tier.MinUtilization {
			continue
		}
		return r >= tier.MinReturn && peak >= tier.MinPeak && peak-r >= tier.MinRetrace
	}
	return false
}

// TrailingMargin is the retracement from peak, in percent points, that
// liquidates a trimmed tranche.
func TrailingMargin(peak float64, regime domain.Regime, cfg Config) float64 {
	margin := cfg.TrailTiers[len(cfg.TrailTiers)-1].Margin
	for _, tier := range cfg.TrailTiers {
		if peak >= tier.MinPeak {
			margin = tier.Margin
			break
		}
	}
	switch {
	case regime.Bullish():
		margin += cfg.TrailBullShift
	case regime.Bearish():
		margin += cfg.TrailBearShift
	}
	return math.Max(margin, cfg.MinTrailMargin)
}

// StopLine is the whole-position return, in percent, at which every tranche
// is liquidated.
func StopLine(occupied int, volatility float64, drawdownDays int, cfg Config) float64 {
	if occupied <= 0 {
		return math.Inf(-1)
	}
	base := cfg.StopBase[min(occupied, len(cfg.StopBase))-1]
	line := base
	switch {
	case volatility > cfg.HighVolPct:
		line -= cfg.HighVolLoosen
	case volatility > cfg.MidVolPct:
		line -= cfg.MidVolLoosen
	}
	line = math.Max(base*1.5, math.Min(base*0.5, line))

	for _, rule := range cfg.TimeRules {
		if drawdownDays >= rule.Days {
			line = math.Max(line, rule.Line)
		}
	}
	return line
}

func drawdownDays(inst *domain.Instrument, now time.Time) int {
	if inst.DrawdownSince == nil {
		return 0
	}
	return int(now.Sub(*inst.DrawdownSince).Hours() / 24)
}
