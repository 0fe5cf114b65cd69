// Package allocator sizes the bot's budget from its own performance.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

const (
	defaultSafetyCashRatio = 0.8
	defaultValueCapRatio   = 1.0
)

// Tier maps a performance rate to a budget multiplier. A tier applies when
// the rate is strictly above MinRate.
type Tier struct {
	MinRate    float64 `yaml:"min_rate"`
	Multiplier float64 `yaml:"multiplier"`
}

// DefaultTiers is ordered from the best band to the worst.
func DefaultTiers() []Tier {
	return []Tier{
		{MinRate: 0.30, Multiplier: 1.40},
		{MinRate: 0.20, Multiplier: 1.30},
		{MinRate: 0.15, Multiplier: 1.25},
		{MinRate: 0.10, Multiplier: 1.20},
		{MinRate: 0.05, Multiplier: 1.10},
		{MinRate: -0.05, Multiplier: 1.00},
		{MinRate: -0.10, Multiplier: 0.95},
		{MinRate: -0.15, Multiplier: 0.90},
		{MinRate: -0.20, Multiplier: 0.85},
		{MinRate: math.Inf(-1), Multiplier: 0.70},
	}
}

// BalanceSource is the slice of the broker the allocator needs.
type BalanceSource interface {
	Balance(ctx context.Context, currency string) (domain.Balance, error)
}

// Config holds the static budget parameters.
type Config struct {
	BaseBudget      float64
	InitialBudget   float64
	SafetyCashRatio float64
	ValueCapRatio   float64
	Currency        string
	Tiers           []Tier
}

// Input is the bot's own slice of the account, built from the ledger only.
type Input struct {
	MarketValue float64 // held quantity × current price, this bot's instruments only
	CostBasis   float64 // capital committed in open tranches
	RealizedPnL float64
}

// Budget is the outcome of one allocation pass.
type Budget struct {
	Amount            float64
	Dynamic           float64
	Multiplier        float64
	PerformanceRate   float64
	AttributableValue float64
	Cash              float64
	ClampedBy         string // "", "cash" or "value"
	Fallback          bool
}

// ForInstrument is the share of the budget an instrument with weight gets.
func (b Budget) ForInstrument(weight float64) float64 {
	return b.Amount * weight
}

// Allocator computes the dynamic budget each tick.
type Allocator struct {
	cfg      Config
	balances BalanceSource
}

// New creates an Allocator. Missing ratios and tiers take defaults.
func New(cfg Config, balances BalanceSource) *Allocator {
	if cfg.InitialBudget <= 0 {
		cfg.InitialBudget = cfg.BaseBudget
	}
	if cfg.SafetyCashRatio <= 0 {
		cfg.SafetyCashRatio = defaultSafetyCashRatio
	}
	if cfg.ValueCapRatio <= 0 {
		cfg.ValueCapRatio = defaultValueCapRatio
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	return &Allocator{cfg: cfg, balances: balances}
}

// Compute never fails: any problem degrades to the static base budget.
func (a *Allocator) Compute(ctx context.Context, in Input) Budget {
	static := Budget{Amount: a.cfg.BaseBudget, Dynamic: a.cfg.BaseBudget, Multiplier: 1, Fallback: true}

	attributable := in.MarketValue + (a.cfg.BaseBudget - in.CostBasis + in.RealizedPnL)
	if attributable <= 0 || a.cfg.InitialBudget <= 0 {
		slog.Warn("allocator: non-positive attributable value, using base budget",
			"attributable", fmt.Sprintf("%.2f", attributable))
		static.AttributableValue = attributable
		return static
	}

	rate := (attributable - a.cfg.InitialBudget) / a.cfg.InitialBudget
	mult := Multiplier(rate, a.cfg.Tiers)
	dynamic := a.cfg.BaseBudget * mult

	bal, err := a.balances.Balance(ctx, a.cfg.Currency)
	if err != nil {
		slog.Warn("allocator: balance unavailable, using base budget", "err", err)
		static.PerformanceRate = rate
		static.AttributableValue = attributable
		return static
	}

	b := Budget{
		Amount:            dynamic,
		Dynamic:           dynamic,
		Multiplier:        mult,
		PerformanceRate:   rate,
		AttributableValue: attributable,
		Cash:              bal.Cash,
	}
	cashCap := bal.Cash * a.cfg.SafetyCashRatio
	valueCap := attributable * a.cfg.ValueCapRatio
	if limit := math.Min(cashCap, valueCap); b.Amount > limit {
		b.Amount = math.Max(limit, 0)
		if cashCap <= valueCap {
			b.ClampedBy = "cash"
		} else {
			b.ClampedBy = "value"
		}
	}

	slog.Debug("allocator: budget computed",
		"rate", fmt.Sprintf("%.4f", rate),
		"multiplier", mult,
		"dynamic", fmt.Sprintf("%.2f", dynamic),
		"amount", fmt.Sprintf("%.2f", b.Amount),
		"clamped_by", b.ClampedBy,
	)
	return b
}

// Multiplier returns the multiplier of the first tier whose MinRate is below
// rate. Tiers must be ordered best first.
func Multiplier(rate float64, tiers []Tier) float64 {
	for _, t := range tiers {
		if rate > t.MinRate {
			return t.Multiplier
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1].Multiplier
	}
	return 1
}
