// Package analysis turns OHLCV series into the technical snapshot the entry
// and exit engines consume.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
	"github.com/markcheno/go-talib"
)

var ErrNotEnoughBars = errors.New("not enough bars")

// Options tune the indicator windows.
type Options struct {
	RSIPeriod        int
	ATRPeriod        int
	VolatilityWindow int
	PullbackWindow   int
	MoveLookback     int
	// MaxAge rejects series whose last bar is older than this. Zero disables
	// the check.
	MaxAge time.Duration
}

// DefaultOptions returns the windows used in production.
func DefaultOptions() Options {
	return Options{
		RSIPeriod:        14,
		ATRPeriod:        14,
		VolatilityWindow: 20,
		PullbackWindow:   30,
		MoveLookback:     5,
	}
}

func (o Options) minBars() int {
	return max(o.RSIPeriod+1, o.ATRPeriod+1, o.VolatilityWindow+1, 20)
}

// Snapshot computes the technical view of code from candles (oldest first).
func Snapshot(code string, candles []domain.Candle, opts Options, now time.Time) (domain.Snapshot, error) {
	if len(candles) < opts.minBars() {
		return domain.Snapshot{}, domain.NewError(domain.KindDataUnavailable, "analysis.Snapshot", code,
			fmt.Errorf("%w: have %d, need %d", ErrNotEnoughBars, len(candles), opts.minBars()))
	}
	last := candles[len(candles)-1]
	if opts.MaxAge > 0 && now.Sub(last.Time) > opts.MaxAge {
		return domain.Snapshot{}, domain.NewError(domain.KindDataUnavailable, "analysis.Snapshot", code,
			fmt.Errorf("last bar %s is stale", last.Time.Format(time.RFC3339)))
	}

	closes, highs, lows := split(candles)
	price := last.Close
	if price <= 0 {
		return domain.Snapshot{}, domain.NewError(domain.KindDataUnavailable, "analysis.Snapshot", code,
			errors.New("non-positive close"))
	}

	s := domain.Snapshot{
		Code:        code,
		Price:       price,
		RSI:         lastValue(talib.Rsi(closes, opts.RSIPeriod)),
		MA5:         movingAverage(closes, 5),
		MA20:        movingAverage(closes, 20),
		MA60:        movingAverage(closes, 60),
		ATR:         lastValue(talib.Atr(highs, lows, closes, opts.ATRPeriod)),
		Volatility:  Volatility(closes, opts.VolatilityWindow),
		PullbackPct: pullback(highs, price, opts.PullbackWindow),
		LastStepPct: pctChange(closes[len(closes)-2], price),
		MovePct:     MovePct(closes, opts.MoveLookback),
		AsOf:        last.Time,
	}
	s.Trend = classifyTrend(price, s.MA5, s.MA20, s.MA60)
	return s, nil
}

// Regime classifies the market from a benchmark series.
func Regime(candles []domain.Candle) domain.Regime {
	if len(candles) < 20 {
		return domain.RegimeNeutral
	}
	closes, _, _ := split(candles)
	price := closes[len(closes)-1]
	switch classifyTrend(price, movingAverage(closes, 5), movingAverage(closes, 20), movingAverage(closes, 60)) {
	case domain.TrendStrongUp:
		return domain.RegimeStrongUp
	case domain.TrendUp:
		return domain.RegimeUp
	case domain.TrendDown:
		return domain.RegimeDown
	case domain.TrendStrongDown:
		return domain.RegimeStrongDown
	default:
		return domain.RegimeNeutral
	}
}

// Volatility is the standard deviation of bar-to-bar percent returns over
// the last window bars.
func Volatility(closes []float64, window int) float64 {
	if len(closes) < window+1 || window < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, pctChange(closes[i-1], closes[i]))
	}
	return lastValue(talib.StdDev(returns, window, 1))
}

// MovePct is the percent change over the last lookback bars.
func MovePct(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) <= lookback {
		return 0
	}
	return pctChange(closes[len(closes)-1-lookback], closes[len(closes)-1])
}

func classifyTrend(price, ma5, ma20, ma60 float64) domain.Trend {
	switch {
	case price > ma5 && ma5 > ma20 && ma20 > ma60:
		return domain.TrendStrongUp
	case price < ma5 && ma5 < ma20 && ma20 < ma60:
		return domain.TrendStrongDown
	case ma5 > ma20 && price > ma20:
		return domain.TrendUp
	case ma5 < ma20 && price < ma20:
		return domain.TrendDown
	default:
		return domain.TrendSideways
	}
}

// movingAverage falls back to the mean of all closes when the series is
// shorter than the period.
func movingAverage(closes []float64, period int) float64 {
	if len(closes) < period {
		var sum float64
		for _, c := range closes {
			sum += c
		}
		return sum / float64(len(closes))
	}
	return lastValue(talib.Sma(closes, period))
}

func pullback(highs []float64, price float64, window int) float64 {
	start := max(len(highs)-window, 0)
	peak := 0.0
	for _, h := range highs[start:] {
		peak = math.Max(peak, h)
	}
	if peak <= 0 || price >= peak {
		return 0
	}
	return (peak - price) / peak * 100
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

func split(candles []domain.Candle) (closes, highs, lows []float64) {
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	return closes, highs, lows
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
