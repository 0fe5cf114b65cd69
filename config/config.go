package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/splitbot/internal/adapters/paper"
	"github.com/alejandrodnm/splitbot/internal/adapters/sentiment"
	"github.com/alejandrodnm/splitbot/internal/analysis"
	"github.com/alejandrodnm/splitbot/internal/application/allocator"
	"github.com/alejandrodnm/splitbot/internal/application/engine"
	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/exit"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Bot         BotConfig          `yaml:"bot"`
	Budget      BudgetConfig       `yaml:"budget"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Entry       EntryConfig        `yaml:"entry"`
	Exit        ExitConfig         `yaml:"exit"`
	StopLoss    StopLossConfig     `yaml:"stop_loss"`
	Reconcile   ReconcileConfig    `yaml:"reconcile"`
	Fees        FeesConfig         `yaml:"fees"`
	Storage     StorageConfig      `yaml:"storage"`
	Sentiment   SentimentConfig    `yaml:"sentiment"`
	MarketData  MarketDataConfig   `yaml:"market_data"`
	Paper       PaperConfig        `yaml:"paper"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Log         LogConfig          `yaml:"log"`
}

// BotConfig controla el tick y los datos de mercado.
type BotConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	Slots           int     `yaml:"slots"`
	Currency        string  `yaml:"currency"`
	Benchmark       string  `yaml:"benchmark"`          // serie para el régimen de mercado
	BarInterval     string  `yaml:"bar_interval"`       // 1d, 1h, ...
	Lookback        int     `yaml:"lookback"`           // barras por serie
	MaxDataAgeHours float64 `yaml:"max_data_age_hours"` // 0 = sin control de antigüedad
	StopFile        string  `yaml:"stop_file"`          // si existe, el loop termina
}

// BudgetConfig alimenta el allocator.
type BudgetConfig struct {
	Base            float64          `yaml:"base"`
	Initial         float64          `yaml:"initial"`
	SafetyCashRatio float64          `yaml:"safety_cash_ratio"`
	ValueCapRatio   float64          `yaml:"value_cap_ratio"`
	Tiers           []allocator.Tier `yaml:"tiers"`
}

// InstrumentConfig es un instrumento gestionado.
type InstrumentConfig struct {
	Code                      string  `yaml:"code"`
	Name                      string  `yaml:"name"`
	Weight                    float64 `yaml:"weight"`
	HighVolCooldownMultiplier float64 `yaml:"high_vol_cooldown_multiplier"`
	Reference                 string  `yaml:"reference"`
	ReferenceLeverage         float64 `yaml:"reference_leverage"`
}

// EntryConfig ajusta el motor de entradas. Los ceros toman el default.
type EntryConfig struct {
	Thresholds        []float64 `yaml:"thresholds"`
	RSICeilings       []float64 `yaml:"rsi_ceilings"`
	BaseDrops         []float64 `yaml:"base_drops"`
	MinPullbackPct    float64   `yaml:"min_pullback_pct"`
	CooldownBaseHours float64   `yaml:"cooldown_base_hours"`
	CooldownMinHours  float64   `yaml:"cooldown_min_hours"`
	CooldownMaxHours  float64   `yaml:"cooldown_max_hours"`
	ReentryWindowDays int       `yaml:"reentry_window_days"`
	PerInstrumentDay  int       `yaml:"per_instrument_daily"`
	DailyBase         int       `yaml:"daily_base"`
	DailyCap          int       `yaml:"daily_cap"`
	UtilizationBlock  float64   `yaml:"utilization_block"`
	UtilizationHard   float64   `yaml:"utilization_hard"`
	BuyCushion        float64   `yaml:"buy_cushion"`
	PriceJumpLimit    float64   `yaml:"price_jump_limit"`
}

// ExitConfig ajusta la escalera de ventas y el trailing stop.
type ExitConfig struct {
	T1             float64 `yaml:"t1"`
	T2             float64 `yaml:"t2"`
	T3             float64 `yaml:"t3"`
	FirstFraction  float64 `yaml:"first_fraction"`
	SecondFraction float64 `yaml:"second_fraction"`
	LIFOTolerance  float64 `yaml:"lifo_tolerance"`
	PressureFloor  float64 `yaml:"pressure_floor"`
	SellCushion    float64 `yaml:"sell_cushion"`
}

// StopLossConfig define la línea de stop por número de tramos ocupados.
type StopLossConfig struct {
	BaseLines []float64        `yaml:"base_lines"`
	TimeRules []TimeRuleConfig `yaml:"time_rules"`
}

// TimeRuleConfig endurece el stop tras Days en drawdown.
type TimeRuleConfig struct {
	Days int     `yaml:"days"`
	Line float64 `yaml:"line"`
}

// ReconcileConfig controla la reconciliación y la confirmación de fills.
type ReconcileConfig struct {
	IntervalMinutes        int     `yaml:"interval_minutes"`
	BackdateDays           int     `yaml:"backdate_days"`
	PriceTolerance         float64 `yaml:"price_tolerance"`
	FillTolerance          float64 `yaml:"fill_tolerance"`
	ConfirmIntervalSeconds int     `yaml:"confirm_interval_seconds"`
	ConfirmTimeoutSeconds  int     `yaml:"confirm_timeout_seconds"`
	PendingMaxAgeMinutes   int     `yaml:"pending_max_age_minutes"`
}

// FeesConfig son los costes del broker.
type FeesConfig struct {
	CommissionRate float64 `yaml:"commission_rate"`
	TaxRate        float64 `yaml:"tax_rate"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	LedgerPath string `yaml:"ledger_path"` // JSON del ledger
	JournalDSN string `yaml:"journal_dsn"` // ruta al archivo SQLite, o ":memory:"
}

// SentimentConfig apunta al proveedor de sentimiento. Sin base_url se usa
// sentimiento neutral.
type SentimentConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
	MaxAgeHours     int    `yaml:"max_age_hours"`
}

// MarketDataConfig apunta al proveedor de velas y cotizaciones.
type MarketDataConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// PaperConfig configura el broker simulado de --paper.
type PaperConfig struct {
	Cash float64 `yaml:"cash"`
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodifica YAML, aplica el entorno y los defaults, y valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// TickInterval devuelve el intervalo entre ticks como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Bot.IntervalSeconds) * time.Second
}

// Validate rechaza configuraciones con las que el bot no puede operar.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("no instruments configured")
	}
	seen := make(map[string]bool, len(c.Instruments))
	var weights float64
	for _, in := range c.Instruments {
		if in.Code == "" {
			return errors.New("instrument without code")
		}
		if seen[in.Code] {
			return fmt.Errorf("instrument %s configured twice", in.Code)
		}
		seen[in.Code] = true
		if in.Weight < 0 {
			return fmt.Errorf("instrument %s: negative weight", in.Code)
		}
		weights += in.Weight
	}
	if weights > 1+1e-9 {
		return fmt.Errorf("instrument weights add up to %.4f, above 1", weights)
	}
	if c.Budget.Base <= 0 {
		return errors.New("budget.base must be positive")
	}
	if c.Bot.Slots < 1 {
		return errors.New("bot.slots must be at least 1")
	}
	if n := len(c.Entry.Thresholds); n > 0 && n != c.Bot.Slots {
		return fmt.Errorf("entry.thresholds has %d values for %d slots", n, c.Bot.Slots)
	}
	if c.Exit.T1 > 0 && c.Exit.T2 > 0 && c.Exit.T2 <= c.Exit.T1 {
		return errors.New("exit.t2 must be above exit.t1")
	}
	if c.Exit.T2 > 0 && c.Exit.T3 > 0 && c.Exit.T3 <= c.Exit.T2 {
		return errors.New("exit.t3 must be above exit.t2")
	}
	return nil
}

// Engine traduce la configuración al engine.
func (c *Config) Engine() engine.Config {
	specs := make([]engine.InstrumentSpec, len(c.Instruments))
	for i, in := range c.Instruments {
		specs[i] = engine.InstrumentSpec{
			Code:                      in.Code,
			Name:                      in.Name,
			Weight:                    in.Weight,
			HighVolCooldownMultiplier: in.HighVolCooldownMultiplier,
			ReferenceCode:             in.Reference,
			ReferenceLeverage:         in.ReferenceLeverage,
		}
	}
	opts := analysis.DefaultOptions()
	opts.MaxAge = time.Duration(c.Bot.MaxDataAgeHours * float64(time.Hour))

	return engine.Config{
		Currency:        c.Bot.Currency,
		Slots:           c.Bot.Slots,
		Benchmark:       c.Bot.Benchmark,
		Interval:        c.Bot.BarInterval,
		Lookback:        c.Bot.Lookback,
		Instruments:     specs,
		Fees:            c.FeesModel(),
		BuyCushion:      c.Entry.BuyCushion,
		SellCushion:     c.Exit.SellCushion,
		PriceJumpLimit:  c.Entry.PriceJumpLimit,
		FillTolerance:   c.Reconcile.FillTolerance,
		ConfirmInterval: time.Duration(c.Reconcile.ConfirmIntervalSeconds) * time.Second,
		ConfirmTimeout:  time.Duration(c.Reconcile.ConfirmTimeoutSeconds) * time.Second,
		PendingMaxAge:   time.Duration(c.Reconcile.PendingMaxAgeMinutes) * time.Minute,
		ReconcileEvery:  time.Duration(c.Reconcile.IntervalMinutes) * time.Minute,
		Analysis:        opts,
	}
}

// Allocator traduce la sección budget.
func (c *Config) Allocator() allocator.Config {
	return allocator.Config{
		BaseBudget:      c.Budget.Base,
		InitialBudget:   c.Budget.Initial,
		SafetyCashRatio: c.Budget.SafetyCashRatio,
		ValueCapRatio:   c.Budget.ValueCapRatio,
		Currency:        c.Bot.Currency,
		Tiers:           c.Budget.Tiers,
	}
}

// EntryEngine parte de los defaults del motor y aplica lo configurado.
func (c *Config) EntryEngine() entry.Config {
	out := entry.DefaultConfig()
	out.Slots = c.Bot.Slots
	e := c.Entry
	if len(e.Thresholds) > 0 {
		out.Thresholds = e.Thresholds
	}
	if len(e.RSICeilings) > 0 {
		out.RSICeilings = e.RSICeilings
	}
	if len(e.BaseDrops) > 0 {
		out.Drawdown.BaseDrops = e.BaseDrops
	}
	setIfPositive(&out.MinPullbackPct, e.MinPullbackPct)
	setIfPositive(&out.Cooldown.BaseHours, e.CooldownBaseHours)
	setIfPositive(&out.Cooldown.MinHours, e.CooldownMinHours)
	setIfPositive(&out.Cooldown.MaxHours, e.CooldownMaxHours)
	setIfPositive(&out.Utilization.Block, e.UtilizationBlock)
	setIfPositive(&out.Utilization.Hard, e.UtilizationHard)
	if e.ReentryWindowDays > 0 {
		out.Reentry.WindowDays = e.ReentryWindowDays
	}
	if e.PerInstrumentDay > 0 {
		out.Daily.PerInstrument = e.PerInstrumentDay
	}
	if e.DailyBase > 0 {
		out.Daily.Base = e.DailyBase
	}
	if e.DailyCap > 0 {
		out.Daily.Cap = e.DailyCap
	}
	return out
}

// ExitEngine combina las secciones exit y stop_loss.
func (c *Config) ExitEngine() exit.Config {
	out := exit.DefaultConfig()
	x := c.Exit
	setIfPositive(&out.T1, x.T1)
	setIfPositive(&out.T2, x.T2)
	setIfPositive(&out.T3, x.T3)
	setIfPositive(&out.FirstFraction, x.FirstFraction)
	setIfPositive(&out.SecondFraction, x.SecondFraction)
	setIfPositive(&out.LIFOTolerance, x.LIFOTolerance)
	setIfPositive(&out.PressureFloor, x.PressureFloor)

	if len(c.StopLoss.BaseLines) > 0 {
		out.StopBase = c.StopLoss.BaseLines
	}
	if len(c.StopLoss.TimeRules) > 0 {
		out.TimeRules = make([]exit.TimeRule, len(c.StopLoss.TimeRules))
		for i, r := range c.StopLoss.TimeRules {
			out.TimeRules[i] = exit.TimeRule{Days: r.Days, Line: r.Line}
		}
	}
	return out
}

// ReconcileConfig traduce la sección reconcile.
func (c *Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		Currency:       c.Bot.Currency,
		BackdateDays:   c.Reconcile.BackdateDays,
		PriceTolerance: c.Reconcile.PriceTolerance,
	}
}

// SentimentClient traduce la sección sentiment.
func (c *Config) SentimentClient() sentiment.Config {
	return sentiment.Config{
		BaseURL:  c.Sentiment.BaseURL,
		APIKey:   c.Sentiment.APIKey,
		CacheTTL: time.Duration(c.Sentiment.CacheTTLMinutes) * time.Minute,
		MaxAge:   time.Duration(c.Sentiment.MaxAgeHours) * time.Hour,
	}
}

// PaperBroker configura el broker simulado.
func (c *Config) PaperBroker() paper.Config {
	return paper.Config{Cash: c.Paper.Cash, Fees: c.FeesModel()}
}

// FeesModel devuelve las comisiones como modelo de dominio.
func (c *Config) FeesModel() domain.Fees {
	return domain.Fees{CommissionRate: c.Fees.CommissionRate, TaxRate: c.Fees.TaxRate}
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SPLITBOT_LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}
	if v := os.Getenv("SPLITBOT_JOURNAL_DSN"); v != "" {
		cfg.Storage.JournalDSN = v
	}
	if v := os.Getenv("SPLITBOT_BASE_BUDGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SPLITBOT_BASE_BUDGET: %w", err)
		}
		cfg.Budget.Base = f
	}
	if v := os.Getenv("SENTIMENT_API_KEY"); v != "" {
		cfg.Sentiment.APIKey = v
	}
	if v := os.Getenv("MARKET_DATA_API_KEY"); v != "" {
		cfg.MarketData.APIKey = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Bot.IntervalSeconds <= 0 {
		cfg.Bot.IntervalSeconds = 300
	}
	if cfg.Bot.Slots <= 0 {
		cfg.Bot.Slots = domain.DefaultSlots
	}
	if cfg.Bot.Currency == "" {
		cfg.Bot.Currency = "USD"
	}
	if cfg.Bot.StopFile == "" {
		cfg.Bot.StopFile = "STOP_SPLITBOT"
	}
	if cfg.Fees.CommissionRate <= 0 {
		cfg.Fees.CommissionRate = 0.00015
	}
	if cfg.Fees.TaxRate <= 0 {
		cfg.Fees.TaxRate = 0.0023
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "data/ledger.json"
	}
	if cfg.Storage.JournalDSN == "" {
		cfg.Storage.JournalDSN = "data/journal.db"
	}
	if cfg.MarketData.BaseURL == "" {
		cfg.MarketData.BaseURL = "http://localhost:8090"
	}
	if cfg.Paper.Cash <= 0 {
		cfg.Paper.Cash = 2 * cfg.Budget.Base
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
