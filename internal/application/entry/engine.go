// Package entry decides whether an instrument should open its next tranche.
package entry

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Input is everything the engine looks at for one instrument on one tick.
type Input struct {
	Instrument *domain.Instrument
	Snapshot   domain.Snapshot
	Regime     domain.Regime
	Sentiment  domain.Sentiment
	Reference  domain.ReferenceMove
	// Allocation is the instrument's share of the budget.
	Allocation float64
	// HighVolCooldownMultiplier overrides the high-volatility cooldown band
	// for this instrument when positive.
	HighVolCooldownMultiplier float64
	// TradesToday counts buys across all instruments today.
	TradesToday int
	// MarketVolatility sizes the cross-instrument daily cap. It is the same
	// for every instrument within a tick.
	MarketVolatility float64
	// Breadth counts instruments with a candidate slot this tick.
	Breadth int
	Now     time.Time
}

// Decision is the engine's verdict for one instrument.
type Decision struct {
	Code         string
	Slot         int
	Execute      bool
	Reason       string
	Reentry      bool
	Score        Score
	Threshold    float64
	RequiredDrop float64
	ActualDrop   float64
	Price        float64
	Quantity     int64
}

// Engine evaluates entries. It holds no state between calls.
type Engine struct {
	cfg Config
}

// New creates an entry engine.
func New(cfg Config) *Engine {
	cfg.fill()
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// CandidateSlots lists the empty slots whose predecessor is occupied, in
// slot order. Slot 1 is a candidate whenever it is empty.
func CandidateSlots(in *domain.Instrument) []int {
	var out []int
	for _, t := range in.Tranches {
		if in.CanOpen(t.Slot) == nil {
			out = append(out, t.Slot)
		}
	}
	return out
}

// Evaluate returns the first candidate slot that passes every gate and
// reaches its threshold, or the rejection of the first candidate.
func (e *Engine) Evaluate(in Input) Decision {
	inst := in.Instrument
	d := Decision{Code: inst.Code, Price: in.Snapshot.Price}

	slots := CandidateSlots(inst)
	if len(slots) == 0 {
		d.Reason = skipNoCandidate.String()
		return d
	}

	if r := e.instrumentGates(in); r != skipNone {
		d.Slot = slots[0]
		d.Reason = r.String()
		slog.Debug("entry: instrument gated", "code", inst.Code, "reason", d.Reason)
		return d
	}

	var first *Decision
	for _, slot := range slots {
		sd := e.evaluateSlot(in, slot)
		if sd.Execute {
			return sd
		}
		slog.Debug("entry: slot rejected",
			"code", inst.Code,
			"slot", slot,
			"reason", sd.Reason,
			"score", fmt.Sprintf("%.1f", sd.Score.Total()),
			"threshold", sd.Threshold,
		)
		if first == nil {
			first = &sd
		}
	}
	return *first
}

// instrumentGates are the checks that do not depend on the slot.
func (e *Engine) instrumentGates(in Input) skipReason {
	inst := in.Instrument
	if active, hours := cooldownActive(inst, in.Snapshot, in.Regime, e.cfg.Cooldown, in.HighVolCooldownMultiplier, in.Now); active {
		slog.Debug("entry: cooling down", "code", inst.Code, "hours", fmt.Sprintf("%.1f", hours))
		return skipCooldown
	}
	if in.TradesToday >= DailyCap(in.MarketVolatility, in.Regime, in.Breadth, e.cfg.Daily) {
		return skipDailyCap
	}
	if inst.DailyBuys.Value(in.Now) >= e.cfg.Daily.PerInstrument {
		return skipInstrumentCap
	}
	return utilizationCheck(inst, in.Snapshot.Price, in.Allocation, e.cfg.Utilization)
}

func (e *Engine) evaluateSlot(in Input, slot int) Decision {
	inst := in.Instrument
	s := in.Snapshot
	d := Decision{Code: inst.Code, Slot: slot, Price: s.Price}

	reject := func(r skipReason) Decision {
		d.Reason = r.String()
		return d
	}

	if slot == 1 {
		applies, r := reentryCheck(inst, s, e.cfg.Reentry, in.Now)
		if r != skipNone {
			return reject(r)
		}
		d.Reentry = applies
		if !applies && s.PullbackPct < e.cfg.MinPullbackPct {
			return reject(skipPullback)
		}
	} else {
		prev := inst.Slot(slot - 1)
		d.RequiredDrop = RequiredDrop(slot, s, in.Regime, in.Sentiment, e.cfg.Drawdown)
		d.ActualDrop = (prev.EntryPrice - s.Price) / prev.EntryPrice
		if d.ActualDrop < d.RequiredDrop {
			return reject(skipDrawdown)
		}
	}

	if s.RSI > slotValue(e.cfg.RSICeilings, slot) {
		return reject(skipRSICeiling)
	}

	d.Score = computeScore(scoreInput{
		slot:         slot,
		snap:         s,
		regime:       in.Regime,
		sentiment:    in.Sentiment,
		reference:    in.Reference,
		requiredDrop: d.RequiredDrop,
		actualDrop:   d.ActualDrop,
	}, e.cfg)
	d.Threshold = Threshold(slot, s, d.Score.Reference, e.cfg)
	if d.Score.Total() < d.Threshold {
		return reject(skipScore)
	}

	if s.Price <= 0 || s.RSI < e.cfg.RSIMin || s.RSI > e.cfg.RSIMax {
		return reject(skipSanity)
	}

	slotBudget := in.Allocation / float64(e.cfg.Slots)
	d.Quantity = int64(math.Floor(slotBudget / s.Price))
	if d.Quantity < 1 {
		return reject(skipBudget)
	}

	d.Execute = true
	return d
}
