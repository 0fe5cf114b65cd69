package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/splitbot/internal/adapters/notify"
	"github.com/alejandrodnm/splitbot/internal/application/engine"
	"github.com/alejandrodnm/splitbot/internal/domain"
	"github.com/alejandrodnm/splitbot/internal/metrics"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tick loop against the paper broker",
	Long: `Run loads the ledger, then executes one tick every bot.interval_seconds
until interrupted or until the stop file (bot.stop_file) appears.

Orders go to the in-memory paper broker, quoted from the market-data
service. Its holdings are seeded from the ledger on startup.

Example:
  splitbot run -c config/config.yaml --once`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run one tick and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s, err := buildStack(ctx, nil, m)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Metrics.Addr != "" && !runOnce {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	if err := s.bot.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	slog.Info("splitbot starting",
		"config", configPath,
		"interval", cfg.TickInterval(),
		"instruments", len(cfg.Instruments),
		"slots", cfg.Bot.Slots,
		"ledger", s.store.Path(),
		"once", runOnce,
	)

	cycle := 1
	runCycle(ctx, s, cycle)
	if runOnce {
		return nil
	}

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()
	slog.Info("tick loop started, press Ctrl+C or create the stop file to exit", "stop_file", cfg.Bot.StopFile)

	for {
		select {
		case <-ctx.Done():
			slog.Info("splitbot stopped (signal)", "total_cycles", cycle)
			return nil
		case <-ticker.C:
			if _, err := os.Stat(cfg.Bot.StopFile); err == nil {
				slog.Info("stop file detected, shutting down", "file", cfg.Bot.StopFile, "total_cycles", cycle)
				os.Remove(cfg.Bot.StopFile)
				return nil
			}
			cycle++
			runCycle(ctx, s, cycle)
		}
	}
}

func runCycle(ctx context.Context, s *stack, cycle int) {
	res, err := s.bot.RunCycle(ctx)
	if err != nil {
		slog.Error("cycle failed", "cycle", cycle, "err", err)
		return
	}

	in := notify.CycleStatusInput{
		At:          res.StartedAt,
		MarketOpen:  res.MarketOpen,
		Regime:      res.Regime,
		Budget:      res.Budget.Amount,
		Pending:     len(res.Pending),
		Alerts:      res.Alerts,
		Warnings:    res.Warnings,
		Errors:      len(res.Errors),
		RealizedPnL: s.bot.RealizedPnL(),
	}
	for _, f := range append(res.Entries, res.Exits...) {
		in.Fills = append(in.Fills, tradeEvent(f, res.StartedAt))
	}
	s.console.PrintCycleStatus(in)
}

func tradeEvent(f engine.Fill, at time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		Code:        f.Code,
		Slot:        f.Slot,
		Side:        f.Side,
		Quantity:    f.Quantity,
		Price:       f.Price,
		OrderID:     f.OrderID,
		Reason:      f.Reason,
		RealizedPnL: f.RealizedPnL,
		At:          at,
	}
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
