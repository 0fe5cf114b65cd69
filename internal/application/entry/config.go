package entry

// Config holds every tunable of the entry engine. Zero values are replaced by
// DefaultConfig's in New.
type Config struct {
	Slots int

	// Thresholds is the minimum composite score per slot (index 0 = slot 1).
	Thresholds []float64
	// RSICeilings is the highest RSI at which a slot may enter.
	RSICeilings []float64
	RSIMin      float64
	RSIMax      float64

	// MinPullbackPct is the pullback from the recent high a fresh slot-1
	// entry needs.
	MinPullbackPct float64
	// PullbackFullScorePct is the pullback that earns the full drawdown
	// bucket for slot 1.
	PullbackFullScorePct float64

	FallingKnifePct   float64
	FallingKnifeRaise float64

	// ReferenceGain converts the gap between expected and actual move (in
	// percent points) into score points.
	ReferenceGain        float64
	ReferenceStrongBonus float64
	ReferenceLower       float64
	BenchmarkCrashPct    float64

	Drawdown    DrawdownConfig
	Cooldown    CooldownConfig
	Reentry     ReentryConfig
	Daily       DailyConfig
	Utilization UtilizationConfig
}

// DrawdownConfig drives the required drop for slots 2..N.
type DrawdownConfig struct {
	// BaseDrops is the base fractional drop per slot (index 0 = slot 1,
	// unused).
	BaseDrops     []float64
	OversoldRSI   float64
	OverboughtRSI float64
	RSIAdjust     float64
	BearAdjust    float64
	BullAdjust    float64
	// SentimentEdge is the signed sentiment beyond which the adjustment kicks in.
	SentimentEdge   float64
	SentimentAdjust float64
	DeepPullbackPct float64
	MidPullbackPct  float64
	DeepPullbackAdj float64
	MidPullbackAdj  float64
}

// CooldownConfig drives the wait after a closing sale.
type CooldownConfig struct {
	BaseHours         float64
	LookbackDays      int
	MinHours          float64
	MaxHours          float64
	LossMultiplier    float64
	HighVolPct        float64
	MidVolPct         float64
	HighVolMultiplier float64
	MidVolMultiplier  float64
	LowVolMultiplier  float64
	BearMultiplier    float64
}

// ReentryConfig drives slot-1 reentry after a profitable close.
type ReentryConfig struct {
	WindowDays int
	RSICeiling float64
}

// DailyConfig sizes the daily buy governors.
type DailyConfig struct {
	PerInstrument int
	Base          int
	Cap           int
	HighVolPct    float64
	BreadthMin    int
}

// UtilizationConfig guards over-deployed instruments.
type UtilizationConfig struct {
	// Block is the utilization at which entries stop unless the position is
	// in profit.
	Block float64
	// Hard blocks entries regardless of profit.
	Hard float64
}

// DefaultConfig returns the production defaults for three slots.
func DefaultConfig() Config {
	return Config{
		Slots:                3,
		Thresholds:           []float64{60, 65, 70},
		RSICeilings:          []float64{70, 70, 75},
		RSIMin:               15,
		RSIMax:               90,
		MinPullbackPct:       2,
		PullbackFullScorePct: 8,
		FallingKnifePct:      5,
		FallingKnifeRaise:    10,
		ReferenceGain:        2,
		ReferenceStrongBonus: 15,
		ReferenceLower:       5,
		BenchmarkCrashPct:    3,
		Drawdown: DrawdownConfig{
			BaseDrops:       []float64{0, 0.06, 0.07},
			OversoldRSI:     30,
			OverboughtRSI:   70,
			RSIAdjust:       0.01,
			BearAdjust:      0.015,
			BullAdjust:      0.01,
			SentimentEdge:   0.5,
			SentimentAdjust: 0.005,
			DeepPullbackPct: 15,
			MidPullbackPct:  10,
			DeepPullbackAdj: 0.01,
			MidPullbackAdj:  0.005,
		},
		Cooldown: CooldownConfig{
			BaseHours:         6,
			LookbackDays:      3,
			MinHours:          1,
			MaxHours:          12,
			LossMultiplier:    0.8,
			HighVolPct:        6,
			MidVolPct:         3.5,
			HighVolMultiplier: 0.5,
			MidVolMultiplier:  0.8,
			LowVolMultiplier:  1.0,
			BearMultiplier:    0.6,
		},
		Reentry: ReentryConfig{
			WindowDays: 2,
			RSICeiling: 65,
		},
		Daily: DailyConfig{
			PerInstrument: 2,
			Base:          4,
			Cap:           6,
			HighVolPct:    5,
			BreadthMin:    2,
		},
		Utilization: UtilizationConfig{
			Block: 1.0,
			Hard:  1.3,
		},
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.Slots <= 0 {
		c.Slots = d.Slots
	}
	if len(c.Thresholds) == 0 {
		c.Thresholds = d.Thresholds
	}
	if len(c.RSICeilings) == 0 {
		c.RSICeilings = d.RSICeilings
	}
	if c.RSIMin <= 0 {
		c.RSIMin = d.RSIMin
	}
	if c.RSIMax <= 0 {
		c.RSIMax = d.RSIMax
	}
	if c.MinPullbackPct < 0 {
		c.MinPullbackPct = 0
	}
	if c.PullbackFullScorePct <= 0 {
		c.PullbackFullScorePct = d.PullbackFullScorePct
	}
	if c.FallingKnifePct <= 0 {
		c.FallingKnifePct = d.FallingKnifePct
	}
	if c.ReferenceGain <= 0 {
		c.ReferenceGain = d.ReferenceGain
	}
	if c.ReferenceStrongBonus <= 0 {
		c.ReferenceStrongBonus = d.ReferenceStrongBonus
	}
	if c.BenchmarkCrashPct <= 0 {
		c.BenchmarkCrashPct = d.BenchmarkCrashPct
	}
	if len(c.Drawdown.BaseDrops) == 0 {
		c.Drawdown = d.Drawdown
	}
	if c.Cooldown.BaseHours <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.Reentry.WindowDays <= 0 {
		c.Reentry = d.Reentry
	}
	if c.Daily.PerInstrument <= 0 {
		c.Daily = d.Daily
	}
	if c.Utilization.Block <= 0 {
		c.Utilization = d.Utilization
	}
}

// slotValue reads a per-slot table, repeating the last entry for slots past
// its end.
func slotValue(table []float64, slot int) float64 {
	if len(table) == 0 {
		return 0
	}
	i := min(max(slot-1, 0), len(table)-1)
	return table[i]
}
