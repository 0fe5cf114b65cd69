package domain

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Regime is the broad market direction derived from a benchmark.
type Regime string

const (
	RegimeStrongUp   Regime = "strong_uptrend"
	RegimeUp         Regime = "uptrend"
	RegimeNeutral    Regime = "neutral"
	RegimeDown       Regime = "downtrend"
	RegimeStrongDown Regime = "strong_downtrend"
)

// Bullish reports an up or strong-up regime.
func (r Regime) Bullish() bool { return r == RegimeUp || r == RegimeStrongUp }

// Bearish reports a down or strong-down regime.
func (r Regime) Bearish() bool { return r == RegimeDown || r == RegimeStrongDown }

// Trend classifies an instrument's own moving-average structure.
type Trend string

const (
	TrendStrongUp   Trend = "strong_up"
	TrendUp         Trend = "up"
	TrendSideways   Trend = "sideways"
	TrendDown       Trend = "down"
	TrendStrongDown Trend = "strong_down"
)

// Snapshot is the per-tick technical view of an instrument.
type Snapshot struct {
	Code  string
	Price float64
	RSI   float64
	MA5   float64
	MA20  float64
	MA60  float64
	ATR   float64
	// Volatility is the standard deviation of bar-to-bar returns, in percent.
	Volatility float64
	// PullbackPct is the distance below the recent high, in percent.
	PullbackPct float64
	// LastStepPct is the most recent bar-to-bar change, in percent.
	LastStepPct float64
	// MovePct is the change over the reference lookback, in percent.
	MovePct float64
	Trend   Trend
	AsOf    time.Time
}

// ReferenceMove compares an instrument with a correlated benchmark it is
// expected to track with leverage.
type ReferenceMove struct {
	Code      string
	Leverage  float64
	MovePct   float64 // benchmark move over the lookback
	Available bool
}

// SentimentDecision is the classifier label.
type SentimentDecision string

const (
	SentimentPositive SentimentDecision = "POSITIVE"
	SentimentNegative SentimentDecision = "NEGATIVE"
	SentimentNeutral  SentimentDecision = "NEUTRAL"
)

// Sentiment is the latest news-sentiment read for an instrument.
type Sentiment struct {
	Decision   SentimentDecision `json:"decision"`
	Percentage float64           `json:"percentage"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Stale      bool              `json:"stale"`
}

// NeutralSentiment is used when no usable read exists.
func NeutralSentiment() Sentiment {
	return Sentiment{Decision: SentimentNeutral, Stale: true}
}

// Signed returns the read as -1..1, or 0 when stale or neutral.
func (s Sentiment) Signed() float64 {
	if s.Stale {
		return 0
	}
	switch s.Decision {
	case SentimentPositive:
		return s.Percentage / 100
	case SentimentNegative:
		return -s.Percentage / 100
	default:
		return 0
	}
}
