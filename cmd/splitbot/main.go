package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/splitbot/config"
	"github.com/alejandrodnm/splitbot/internal/adapters/marketdata"
	"github.com/alejandrodnm/splitbot/internal/adapters/notify"
	"github.com/alejandrodnm/splitbot/internal/adapters/paper"
	"github.com/alejandrodnm/splitbot/internal/adapters/sentiment"
	"github.com/alejandrodnm/splitbot/internal/adapters/storage"
	"github.com/alejandrodnm/splitbot/internal/application/allocator"
	"github.com/alejandrodnm/splitbot/internal/application/engine"
	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/exit"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/metrics"
	"github.com/alejandrodnm/splitbot/internal/ports"
)

var (
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "splitbot",
	Short: "Tranche-based split trading bot",
	Long: `splitbot manages pyramided positions for a small basket of instruments.

Each instrument holds up to N tranches. Entries open the next free tranche
after a drawdown, exits sell each tranche along a profit ladder with a
trailing stop, and the ledger is reconciled against the broker.

Commands:
  run        - run the tick loop
  report     - print the ledger and recent trades
  reconcile  - reconcile the ledger against a holdings snapshot`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		setupLogger(cfg.Log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set log level to debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "format", "", "log format: text|json (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack holds everything a command may need. Close releases what was opened.
type stack struct {
	store    *storage.LedgerFile
	journal  *storage.Journal
	market   *marketdata.Client
	broker   *paper.Broker
	console  *notify.Console
	metrics  *metrics.Metrics
	bot      *engine.Bot
	closeFns []func()
}

func (s *stack) Close() {
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		s.closeFns[i]()
	}
}

// buildStack wires the adapters around a bot. broker may be nil, in which
// case a paper broker quoted from market data is created.
func buildStack(ctx context.Context, broker *paper.Broker, m *metrics.Metrics) (*stack, error) {
	s := &stack{console: notify.NewConsole(), metrics: m}

	store, err := storage.NewLedgerFile(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, err
	}
	s.store = store

	journal, err := storage.NewJournal(cfg.Storage.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", cfg.Storage.JournalDSN, err)
	}
	s.journal = journal
	s.closeFns = append(s.closeFns, func() { journal.Close() })

	s.market = marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey)

	if broker == nil {
		broker = paper.New(cfg.PaperBroker()).WithQuotes(s.market)
		if err := resumePaper(ctx, broker, store); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.broker = broker

	var sent ports.SentimentProvider
	if cfg.Sentiment.BaseURL != "" {
		sent = sentiment.NewClient(cfg.SentimentClient())
	}

	s.bot = engine.New(cfg.Engine(), engine.Deps{
		Broker:     broker,
		Market:     s.market,
		Sentiment:  sent,
		Store:      store,
		Journal:    journal,
		Notifier:   s.console,
		Metrics:    m,
		Allocator:  allocator.New(cfg.Allocator(), broker),
		Entry:      entry.New(cfg.EntryEngine()),
		Exit:       exit.New(cfg.ExitEngine()),
		Reconciler: reconcile.New(cfg.ReconcileConfig(), broker),
	})
	return s, nil
}

// resumePaper seeds the simulated account with what the ledger holds, so a
// restarted paper run does not read as an external liquidation.
func resumePaper(ctx context.Context, broker *paper.Broker, store ports.LedgerStore) error {
	l, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	for _, in := range l.Instruments {
		if q := in.HeldQty(); q > 0 {
			broker.SetHolding(in.Code, q, in.AvgEntryPrice())
			slog.Debug("paper: holding resumed from ledger", "code", in.Code, "qty", q)
		}
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
