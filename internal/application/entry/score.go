package entry

import (
	"math"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Score is the composite entry score split by bucket.
type Score struct {
	Drawdown  float64 // 0..30
	RSI       float64 // 0..20
	Trend     float64 // 0..15
	Position  float64 // 0..10
	Regime    float64 // 0..15
	Sentiment float64 // -10..10
	Reference float64 // -20..20
}

// Total sums the buckets.
func (s Score) Total() float64 {
	return s.Drawdown + s.RSI + s.Trend + s.Position + s.Regime + s.Sentiment + s.Reference
}

// scoreInput is what the buckets look at.
type scoreInput struct {
	slot         int
	snap         domain.Snapshot
	regime       domain.Regime
	sentiment    domain.Sentiment
	reference    domain.ReferenceMove
	requiredDrop float64
	actualDrop   float64
}

func computeScore(in scoreInput, cfg Config) Score {
	return Score{
		Drawdown:  drawdownPoints(in, cfg),
		RSI:       rsiPoints(in.snap.RSI),
		Trend:     trendPoints(in.snap.Trend),
		Position:  positionPoints(in.snap),
		Regime:    regimePoints(in.regime),
		Sentiment: 10 * in.sentiment.Signed(),
		Reference: ReferencePoints(in.snap.MovePct, in.reference, cfg),
	}
}

func drawdownPoints(in scoreInput, cfg Config) float64 {
	if in.slot == 1 {
		return clamp(in.snap.PullbackPct/cfg.PullbackFullScorePct*30, 0, 30)
	}
	if in.requiredDrop <= 0 {
		return 30
	}
	ratio := in.actualDrop / in.requiredDrop
	switch {
	case ratio >= 1.5:
		return 30
	case ratio >= 1:
		return 20 + (ratio-1)/0.5*10
	default:
		return 0
	}
}

// rsiPoints peaks in the 30-40 band: oversold but not capitulating.
func rsiPoints(rsi float64) float64 {
	switch {
	case rsi >= 30 && rsi <= 40:
		return 20
	case rsi >= 25 && rsi < 30:
		return 16
	case rsi > 40 && rsi <= 50:
		return 14
	case rsi >= 20 && rsi < 25:
		return 10
	case rsi > 50 && rsi <= 60:
		return 8
	case rsi < 20:
		return 5
	case rsi > 60 && rsi <= 70:
		return 4
	default:
		return 0
	}
}

func trendPoints(t domain.Trend) float64 {
	switch t {
	case domain.TrendStrongUp:
		return 15
	case domain.TrendUp:
		return 12
	case domain.TrendSideways:
		return 8
	case domain.TrendDown:
		return 4
	default:
		return 0
	}
}

// positionPoints rewards a dip below the short average that still holds the
// medium one.
func positionPoints(s domain.Snapshot) float64 {
	switch {
	case s.MA5 <= 0 || s.MA20 <= 0:
		return 0
	case s.Price < s.MA5 && s.Price >= s.MA20:
		return 10
	case s.Price < s.MA20 && s.Price >= s.MA20*0.97:
		return 7
	case s.Price >= s.MA5:
		return 4
	default:
		return 2
	}
}

func regimePoints(r domain.Regime) float64 {
	switch r {
	case domain.RegimeStrongUp:
		return 15
	case domain.RegimeUp:
		return 12
	case domain.RegimeNeutral:
		return 9
	case domain.RegimeDown:
		return 5
	default:
		return 2
	}
}

// ReferencePoints compares the instrument's move with the move its benchmark
// implies at the given leverage. Lagging the expectation scores positive.
func ReferencePoints(movePct float64, ref domain.ReferenceMove, cfg Config) float64 {
	if !ref.Available {
		return 0
	}
	lev := ref.Leverage
	if lev == 0 {
		lev = 1
	}
	gap := lev*ref.MovePct - movePct
	pts := clamp(gap*cfg.ReferenceGain, -20, 20)
	if ref.MovePct <= -cfg.BenchmarkCrashPct {
		pts = math.Min(pts, -10)
	}
	return pts
}

// Threshold is the score slot must reach.
func Threshold(slot int, s domain.Snapshot, referencePts float64, cfg Config) float64 {
	th := slotValue(cfg.Thresholds, slot)
	if s.LastStepPct <= -cfg.FallingKnifePct {
		th += cfg.FallingKnifeRaise
	}
	if referencePts >= cfg.ReferenceStrongBonus {
		th -= cfg.ReferenceLower
	}
	return th
}
