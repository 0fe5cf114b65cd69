// Package notify escribe alertas e informes del bot en la terminal.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// Alert imprime una alerta en una línea.
func (c *Console) Alert(_ context.Context, a domain.Alert) error {
	at := a.At
	if at.IsZero() {
		at = c.now()
	}
	marker := ">>"
	if a.Level == domain.AlertCritical {
		marker = "!!"
	}
	code := a.Code
	if code == "" {
		code = "-"
	}
	_, err := fmt.Fprintf(c.out, "[%s] %s %s %s %s: %s\n",
		at.Format("15:04:05"), marker, a.Level, code, a.Kind, a.Message)
	return err
}

// CycleStatusInput bundles everything PrintCycleStatus needs.
type CycleStatusInput struct {
	At          time.Time
	MarketOpen  bool
	Regime      domain.Regime
	Budget      float64
	Fills       []domain.TradeEvent
	Pending     int
	Alerts      []domain.Alert
	Warnings    []string
	Errors      int
	RealizedPnL float64
}

// PrintCycleStatus prints a compact summary of one tick.
func (c *Console) PrintCycleStatus(in CycleStatusInput) {
	var sb strings.Builder
	if !in.MarketOpen {
		fmt.Fprintf(&sb, "[%s] market closed | pnl $%.2f | %d pending",
			in.At.Format("15:04:05"), in.RealizedPnL, in.Pending)
	} else {
		buys, sells := 0, 0
		for _, f := range in.Fills {
			if f.Side == domain.SideBuy {
				buys++
			} else {
				sells++
			}
		}
		fmt.Fprintf(&sb, "[%s] %s | budget $%.0f | +%d buys | +%d sells | %d pending | pnl $%.2f",
			in.At.Format("15:04:05"), in.Regime, in.Budget, buys, sells, in.Pending, in.RealizedPnL)
	}
	if in.Errors > 0 {
		fmt.Fprintf(&sb, " | %d errors", in.Errors)
	}

	for _, f := range in.Fills {
		fmt.Fprintf(&sb, "\n  %s %s s%d %d @ %.2f", f.Side, f.Code, f.Slot, f.Quantity, f.Price)
		if f.Side == domain.SideSell {
			fmt.Fprintf(&sb, " (%s, $%+.2f)", f.Reason, f.RealizedPnL)
		}
	}
	for i, a := range in.Alerts {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, "\n  !! %s %s", a.Code, a.Message)
	}
	for i, w := range in.Warnings {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, "\n  >> %s", w)
	}

	fmt.Fprintln(c.out, sb.String())
}

// PrintLedger prints every occupied tranche. prices, when present, adds the
// unrealized return at the latest quote.
func (c *Console) PrintLedger(l *domain.Ledger, prices map[string]float64) {
	if l == nil || len(l.Instruments) == 0 {
		fmt.Fprintln(c.out, "\n  Ledger is empty.")
		return
	}

	insts := make([]*domain.Instrument, len(l.Instruments))
	copy(insts, l.Instruments)
	sort.Slice(insts, func(i, j int) bool { return insts[i].Code < insts[j].Code })

	table := tablewriter.NewWriter(c.out)
	table.Header("Code", "Slot", "Stage", "Qty", "Orig", "Entry", "Opened", "Ret%", "Peak%")

	var rows int
	for _, in := range insts {
		px, hasPx := prices[in.Code]
		for _, t := range in.Occupied() {
			ret := "-"
			if hasPx {
				ret = fmt.Sprintf("%+.2f", t.ReturnPct(px))
			}
			table.Append(
				in.Code,
				fmt.Sprintf("%d", t.Slot),
				t.Stage.String(),
				fmt.Sprintf("%d", t.CurrentQty),
				fmt.Sprintf("%d", t.OriginalQty),
				fmt.Sprintf("%.2f", t.EntryPrice),
				t.EntryDate.Format("2006-01-02"),
				ret,
				fmt.Sprintf("%.2f", t.PeakReturn),
			)
			rows++
		}
	}
	if rows > 0 {
		table.Render()
	} else {
		fmt.Fprintln(c.out, "\n  No open tranches.")
	}

	fmt.Fprintf(c.out, "  instruments %d | cost basis $%.2f | realized $%.2f",
		len(insts), l.CostBasis(), l.RealizedPnL())
	if n := len(l.Pending); n > 0 {
		fmt.Fprintf(c.out, " | %d pending", n)
	}
	fmt.Fprintln(c.out)
}

// PrintTrades prints journal trades, newest first.
func (c *Console) PrintTrades(trades []domain.TradeEvent) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "\n  No trades in the journal for this window.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Code", "Side", "Slot", "Qty", "Price", "Reason", "PnL")

	var pnl float64
	for _, tr := range trades {
		reason, gain := "-", "-"
		if tr.Side == domain.SideSell {
			reason = string(tr.Reason)
			gain = fmt.Sprintf("$%+.2f", tr.RealizedPnL)
			pnl += tr.RealizedPnL
		} else if tr.Score > 0 {
			reason = fmt.Sprintf("score %.0f", tr.Score)
		}
		table.Append(
			tr.At.Format("01-02 15:04"),
			tr.Code,
			string(tr.Side),
			fmt.Sprintf("%d", tr.Slot),
			fmt.Sprintf("%d", tr.Quantity),
			fmt.Sprintf("%.2f", tr.Price),
			reason,
			gain,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d trades | realized $%+.2f\n", len(trades), pnl)
}

// PrintReconcile prints the outcome of a reconciliation pass.
func (c *Console) PrintReconcile(rep reconcile.Report) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Code", "Outcome", "Ledger", "Broker", "Broker avg")
	for _, r := range rep.Results {
		table.Append(
			r.Code,
			string(r.Outcome),
			fmt.Sprintf("%d", r.LedgerQty),
			fmt.Sprintf("%d", r.BrokerQty),
			fmt.Sprintf("%.2f", r.BrokerAvg),
		)
	}
	table.Render()

	status := "no changes"
	if rep.Changed {
		status = "ledger updated"
	}
	fmt.Fprintf(c.out, "  %s | %d conflicts\n", status, rep.Conflicts)
	for _, a := range rep.Alerts() {
		fmt.Fprintf(c.out, "  !! %s %s\n", a.Code, a.Message)
	}
}
