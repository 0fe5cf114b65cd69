package exit

// TrailTier is the trailing margin for tranches whose peak reached MinPeak.
type TrailTier struct {
	MinPeak float64
	Margin  float64
}

// PressureTier is one capital-pressure band. Every floor must hold for the
// override to fire.
type PressureTier struct {
	MinUtilization float64
	MinReturn      float64
	MinPeak        float64
	MinRetrace     float64
}

// TimeRule tightens the stop line once a drawdown has lasted Days.
type TimeRule struct {
	Days int
	Line float64
}

// Config holds every tunable of the exit engine. Percentages are in percent
// points.
type Config struct {
	T1, T2, T3     float64
	FirstFraction  float64
	SecondFraction float64
	BullTargetMult float64
	BearTargetMult float64

	TrailTiers     []TrailTier // ordered by MinPeak, highest first
	TrailBullShift float64
	TrailBearShift float64
	MinTrailMargin float64
	// LIFOTolerance is how far below break-even a later tranche may sit
	// before it blocks an older tranche's trailing stop.
	LIFOTolerance float64

	PressureTiers []PressureTier // ordered by MinUtilization, highest first
	PressureFloor float64

	StopBase      []float64 // by occupied count, index 0 = one tranche
	HighVolPct    float64
	MidVolPct     float64
	HighVolLoosen float64
	MidVolLoosen  float64
	TimeRules     []TimeRule
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		T1:             10,
		T2:             25,
		T3:             40,
		FirstFraction:  0.30,
		SecondFraction: 0.30,
		BullTargetMult: 1.2,
		BearTargetMult: 0.8,
		TrailTiers: []TrailTier{
			{MinPeak: 30, Margin: 8},
			{MinPeak: 20, Margin: 6},
			{MinPeak: 12, Margin: 5},
			{MinPeak: 0, Margin: 4},
		},
		TrailBullShift: 1,
		TrailBearShift: -1,
		MinTrailMargin: 2,
		LIFOTolerance:  3,
		PressureTiers: []PressureTier{
			{MinUtilization: 1.5, MinReturn: 1.5, MinPeak: 3, MinRetrace: 1},
			{MinUtilization: 1.3, MinReturn: 2.5, MinPeak: 5, MinRetrace: 1.5},
			{MinUtilization: 1.1, MinReturn: 4, MinPeak: 8, MinRetrace: 2},
		},
		PressureFloor: 1,
		StopBase:      []float64{-15, -20, -25},
		HighVolPct:    6,
		MidVolPct:     3.5,
		HighVolLoosen: 4,
		MidVolLoosen:  2,
		TimeRules: []TimeRule{
			{Days: 60, Line: -12},
			{Days: 120, Line: -8},
		},
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.T1 <= 0 {
		c.T1 = d.T1
	}
	if c.T2 <= c.T1 {
		c.T2 = max(d.T2, c.T1)
	}
	if c.T3 <= c.T2 {
		c.T3 = max(d.T3, c.T2)
	}
	if c.FirstFraction <= 0 {
		c.FirstFraction = d.FirstFraction
	}
	if c.SecondFraction <= 0 {
		c.SecondFraction = d.SecondFraction
	}
	if c.BullTargetMult <= 0 {
		c.BullTargetMult = d.BullTargetMult
	}
	if c.BearTargetMult <= 0 {
		c.BearTargetMult = d.BearTargetMult
	}
	if len(c.TrailTiers) == 0 {
		c.TrailTiers = d.TrailTiers
	}
	if c.MinTrailMargin <= 0 {
		c.MinTrailMargin = d.MinTrailMargin
	}
	if c.LIFOTolerance <= 0 {
		c.LIFOTolerance = d.LIFOTolerance
	}
	if len(c.PressureTiers) == 0 {
		c.PressureTiers = d.PressureTiers
	}
	if c.PressureFloor <= 0 {
		c.PressureFloor = d.PressureFloor
	}
	if len(c.StopBase) == 0 {
		c.StopBase = d.StopBase
	}
	if c.HighVolPct <= 0 {
		c.HighVolPct = d.HighVolPct
	}
	if c.MidVolPct <= 0 {
		c.MidVolPct = d.MidVolPct
	}
	if c.TimeRules == nil {
		c.TimeRules = d.TimeRules
	}
}
