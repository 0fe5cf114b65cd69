package entry

import (
	"math"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

type skipReason int

const (
	skipNone skipReason = iota
	skipNoCandidate
	skipCooldown
	skipDailyCap
	skipInstrumentCap
	skipUtilization
	skipNoAllocation
	skipReentryAboveSale
	skipReentryRSI
	skipReentrySameDay
	skipReentryTarget
	skipPullback
	skipDrawdown
	skipRSICeiling
	skipSanity
	skipScore
	skipBudget
)

func (r skipReason) String() string {
	switch r {
	case skipNone:
		return ""
	case skipNoCandidate:
		return "no candidate slot"
	case skipCooldown:
		return "post-sale cooldown"
	case skipDailyCap:
		return "daily trade cap"
	case skipInstrumentCap:
		return "per-instrument daily cap"
	case skipUtilization:
		return "capital utilization"
	case skipNoAllocation:
		return "no allocation"
	case skipReentryAboveSale:
		return "reentry: price above prior sale"
	case skipReentryRSI:
		return "reentry: rsi above ceiling"
	case skipReentrySameDay:
		return "reentry: already reentered today"
	case skipReentryTarget:
		return "reentry: price above target"
	case skipPullback:
		return "pullback below minimum"
	case skipDrawdown:
		return "drop below requirement"
	case skipRSICeiling:
		return "rsi above slot ceiling"
	case skipSanity:
		return "sanity check"
	case skipScore:
		return "score below threshold"
	case skipBudget:
		return "slot budget below one unit"
	default:
		return "unknown"
	}
}

// CooldownHours is the wait after sale before a flat instrument may reenter.
// highVolMultiplier overrides the configured multiplier for the high
// volatility band when positive.
func CooldownHours(sale domain.SaleRecord, volatility float64, regime domain.Regime, cfg CooldownConfig, highVolMultiplier float64) float64 {
	base := cfg.BaseHours
	switch r := sale.ReturnPct; {
	case r >= 20:
		base *= 2.0
	case r >= 15:
		base *= 1.8
	case r >= 10:
		base *= 1.5
	case r >= 5:
		base *= 1.2
	case r >= 0:
	default:
		base *= cfg.LossMultiplier
	}

	volMult := cfg.LowVolMultiplier
	switch {
	case volatility > cfg.HighVolPct:
		volMult = cfg.HighVolMultiplier
		if highVolMultiplier > 0 {
			volMult = highVolMultiplier
		}
	case volatility > cfg.MidVolPct:
		volMult = cfg.MidVolMultiplier
	}
	if volMult <= 0 {
		volMult = 1
	}

	regimeMult := 1.0
	if regime.Bearish() && cfg.BearMultiplier > 0 {
		regimeMult = cfg.BearMultiplier
	}

	return clamp(base*volMult*regimeMult, cfg.MinHours, cfg.MaxHours)
}

// cooldownActive reports whether the instrument is still cooling down.
func cooldownActive(in *domain.Instrument, s domain.Snapshot, regime domain.Regime, cfg CooldownConfig, highVolMult float64, now time.Time) (bool, float64) {
	if !in.IsFlat() {
		return false, 0
	}
	sale, ok := in.LastClosingSale()
	if !ok {
		return false, 0
	}
	if now.Sub(sale.Date) > time.Duration(cfg.LookbackDays)*24*time.Hour {
		return false, 0
	}
	hours := CooldownHours(sale, s.Volatility, regime, cfg, highVolMult)
	return now.Sub(sale.Date) < time.Duration(hours*float64(time.Hour)), hours
}

// ReentryTarget is the price a slot-1 reentry must fall below after the
// profitable sale.
func ReentryTarget(sale domain.SaleRecord) float64 {
	switch r := sale.ReturnPct; {
	case r >= 15:
		return sale.Price * 0.92
	case r >= 10:
		return sale.Price * 0.95
	case r >= 5:
		return sale.Price * 0.97
	default:
		return sale.EntryPrice * 0.98
	}
}

// reentryCheck applies the slot-1 reentry rule. applies is false when the
// last close does not trigger the rule at all.
func reentryCheck(in *domain.Instrument, s domain.Snapshot, cfg ReentryConfig, now time.Time) (applies bool, reason skipReason) {
	sale, ok := in.LastClosingSale()
	if !ok || sale.ReturnPct <= 0 {
		return false, skipNone
	}
	if calendarDays(sale.Date, now) >= cfg.WindowDays {
		return false, skipNone
	}
	switch {
	case s.Price > sale.Price:
		return true, skipReentryAboveSale
	case s.RSI > cfg.RSICeiling:
		return true, skipReentryRSI
	case in.LastReentryDay == domain.DayKey(now):
		return true, skipReentrySameDay
	case s.Price >= ReentryTarget(sale):
		return true, skipReentryTarget
	}
	return true, skipNone
}

// calendarDays counts the date changes from a to b in b's location. Two
// times on the same calendar day are 0 apart.
func calendarDays(a, b time.Time) int {
	a = a.In(b.Location())
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// RequiredDrop is the fractional drop from the previous slot's entry that
// slot needs, after market adjustments.
func RequiredDrop(slot int, s domain.Snapshot, regime domain.Regime, sentiment domain.Sentiment, cfg DrawdownConfig) float64 {
	base := slotValue(cfg.BaseDrops, slot)
	req := base

	switch {
	case s.RSI > 0 && s.RSI <= cfg.OversoldRSI:
		req -= cfg.RSIAdjust
	case s.RSI >= cfg.OverboughtRSI:
		req += cfg.RSIAdjust
	}

	switch {
	case regime.Bearish():
		req -= cfg.BearAdjust
	case regime.Bullish():
		req += cfg.BullAdjust
	}

	switch signed := sentiment.Signed(); {
	case signed >= cfg.SentimentEdge:
		req -= cfg.SentimentAdjust
	case signed <= -cfg.SentimentEdge:
		req += cfg.SentimentAdjust
	}

	switch {
	case s.PullbackPct >= cfg.DeepPullbackPct:
		req -= cfg.DeepPullbackAdj
	case s.PullbackPct >= cfg.MidPullbackPct:
		req -= cfg.MidPullbackAdj
	}

	return clamp(req, base*0.5, base*1.5)
}

// DailyCap is the number of buys allowed across all instruments today.
func DailyCap(volatility float64, regime domain.Regime, breadth int, cfg DailyConfig) int {
	limit := cfg.Base
	if volatility >= cfg.HighVolPct {
		limit++
	}
	if regime.Bearish() {
		limit++
	}
	if breadth >= cfg.BreadthMin {
		limit++
	}
	if cfg.Cap > 0 && limit > cfg.Cap {
		limit = cfg.Cap
	}
	return limit
}

// Utilization is committed capital over the instrument's allocation.
func Utilization(in *domain.Instrument, allocation float64) float64 {
	if allocation <= 0 {
		return math.Inf(1)
	}
	return in.CostBasis() / allocation
}

func utilizationCheck(in *domain.Instrument, price, allocation float64, cfg UtilizationConfig) skipReason {
	if allocation <= 0 {
		return skipNoAllocation
	}
	u := Utilization(in, allocation)
	if u < cfg.Block {
		return skipNone
	}
	if in.ReturnPct(price) > 0 && (cfg.Hard <= 0 || u < cfg.Hard) {
		return skipNone
	}
	return skipUtilization
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, v))
}
