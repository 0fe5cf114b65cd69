package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/splitbot/internal/adapters/paper"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

var holdingsPath string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the ledger against a broker holdings snapshot",
	Long: `Reconcile loads a JSON list of broker holdings, aligns the ledger with it
and saves the result. Conflicts are reported and leave the instrument
untouched.

The holdings file is an array of {"code", "qty", "avgPrice"} objects, as
exported from the brokerage account.

Example:
  splitbot reconcile --holdings holdings.json`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&holdingsPath, "holdings", "", "path to the holdings JSON snapshot (required)")
	reconcileCmd.MarkFlagRequired("holdings")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(holdingsPath)
	if err != nil {
		return fmt.Errorf("read holdings: %w", err)
	}
	var holdings []domain.Holding
	if err := json.Unmarshal(data, &holdings); err != nil {
		return fmt.Errorf("parse holdings %q: %w", holdingsPath, err)
	}

	// A paper account holding exactly the snapshot stands in for the broker.
	snapshot := paper.New(cfg.PaperBroker())
	for _, h := range holdings {
		snapshot.SetHolding(h.Code, h.Quantity, h.AvgPrice)
	}

	s, err := buildStack(ctx, snapshot, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.bot.Reconcile(ctx)
	if err != nil {
		return err
	}
	s.console.PrintReconcile(rep)
	if rep.Conflicts > 0 {
		return fmt.Errorf("%d instruments need manual review", rep.Conflicts)
	}
	return nil
}
