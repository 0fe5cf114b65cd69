package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/splitbot/internal/adapters/marketdata"
	"github.com/alejandrodnm/splitbot/internal/adapters/notify"
	"github.com/alejandrodnm/splitbot/internal/adapters/storage"
)

var (
	reportDays   int
	reportLimit  int
	reportQuotes bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the ledger and recent trades",
	Long: `Report prints every occupied tranche from the ledger file and the most
recent trades from the journal. With --quotes the current price of each
instrument is fetched to show unrealized returns.

Examples:
  splitbot report
  splitbot report --days 30 --quotes`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "journal window in days")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 50, "maximum trades to print")
	reportCmd.Flags().BoolVar(&reportQuotes, "quotes", false, "fetch current prices for unrealized returns")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := storage.NewLedgerFile(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	l, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	prices := map[string]float64{}
	if reportQuotes {
		client := marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey)
		for _, in := range l.Instruments {
			if in.IsFlat() {
				continue
			}
			px, err := client.CurrentPrice(ctx, in.Code)
			if err != nil {
				slog.Warn("quote unavailable", "code", in.Code, "err", err)
				continue
			}
			prices[in.Code] = px
		}
	}

	console := notify.NewConsole()
	fmt.Printf("\n── LEDGER (%s, updated %s) ──\n", store.Path(), l.UpdatedAt.Format(time.DateTime))
	console.PrintLedger(l, prices)

	journal, err := storage.NewJournal(cfg.Storage.JournalDSN)
	if err != nil {
		return fmt.Errorf("open journal %q: %w", cfg.Storage.JournalDSN, err)
	}
	defer journal.Close()

	since := time.Now().AddDate(0, 0, -reportDays)
	trades, err := journal.Trades(ctx, since, reportLimit)
	if err != nil {
		return err
	}
	fmt.Printf("\n── TRADES (last %d days) ──\n", reportDays)
	console.PrintTrades(trades)
	return nil
}
