package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/config"
)

const minimal = `
budget:
  base: 10000
instruments:
  - code: AAA
    name: Alpha
    weight: 0.6
  - code: BBB
    weight: 0.4
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.TickInterval())
	assert.Equal(t, 3, cfg.Bot.Slots)
	assert.Equal(t, "USD", cfg.Bot.Currency)
	assert.Equal(t, "data/ledger.json", cfg.Storage.LedgerPath)
	assert.Equal(t, 20000.0, cfg.Paper.Cash)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.InDelta(t, 0.0023, cfg.Fees.TaxRate, 1e-12)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SPLITBOT_BASE_BUDGET", "25000")
	t.Setenv("SPLITBOT_LEDGER_PATH", "/var/lib/splitbot/ledger.json")
	t.Setenv("MARKET_DATA_API_KEY", "md-key")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, 25000.0, cfg.Budget.Base)
	assert.Equal(t, "/var/lib/splitbot/ledger.json", cfg.Storage.LedgerPath)
	assert.Equal(t, "md-key", cfg.MarketData.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_BadBudgetEnv(t *testing.T) {
	t.Setenv("SPLITBOT_BASE_BUDGET", "lots")
	_, err := config.Parse([]byte(minimal))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPLITBOT_BASE_BUDGET")
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no instruments": "budget: {base: 100}\n",
		"duplicate code": "budget: {base: 100}\ninstruments: [{code: A}, {code: A}]\n",
		"weights above 1": "budget: {base: 100}\ninstruments: [{code: A, weight: 0.7}, {code: B, weight: 0.7}]\n",
		"no budget":       "instruments: [{code: A}]\n",
		"threshold count": "budget: {base: 100}\ninstruments: [{code: A}]\nentry: {thresholds: [60, 65]}\n",
		"ladder order":    "budget: {base: 100}\ninstruments: [{code: A}]\nexit: {t1: 20, t2: 15}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMappings(t *testing.T) {
	doc := minimal + `
bot:
  benchmark: SPY
  max_data_age_hours: 48
entry:
  thresholds: [55, 60, 65]
  daily_cap: 5
exit:
  t1: 8
stop_loss:
  base_lines: [-10, -15, -20]
  time_rules: [{days: 30, line: -9}]
reconcile:
  interval_minutes: 15
  pending_max_age_minutes: 45
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	ec := cfg.Engine()
	assert.Equal(t, "SPY", ec.Benchmark)
	require.Len(t, ec.Instruments, 2)
	assert.Equal(t, 0.6, ec.Instruments[0].Weight)
	assert.Equal(t, 48*time.Hour, ec.Analysis.MaxAge)
	assert.Equal(t, 15*time.Minute, ec.ReconcileEvery)
	assert.Equal(t, 45*time.Minute, ec.PendingMaxAge)

	en := cfg.EntryEngine()
	assert.Equal(t, []float64{55, 60, 65}, en.Thresholds)
	assert.Equal(t, 5, en.Daily.Cap)
	assert.Equal(t, 2, en.Daily.PerInstrument)

	ex := cfg.ExitEngine()
	assert.Equal(t, 8.0, ex.T1)
	assert.Equal(t, 25.0, ex.T2)
	assert.Equal(t, []float64{-10, -15, -20}, ex.StopBase)
	require.Len(t, ex.TimeRules, 1)
	assert.Equal(t, 30, ex.TimeRules[0].Days)

	assert.Equal(t, 10000.0, cfg.Allocator().BaseBudget)
	assert.Equal(t, "USD", cfg.ReconcileConfig().Currency)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Instruments, 2)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
