package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/adapters/notify"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

var at = time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)

func TestConsole_Alert(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	err := n.Alert(context.Background(), domain.Alert{
		Level:   domain.AlertCritical,
		Code:    "AAA",
		Kind:    domain.KindReconciliationConflict,
		Message: "ledger 120 vs broker 100",
		At:      at,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "14:30:00")
	assert.Contains(t, out, "!! CRITICAL AAA")
	assert.Contains(t, out, "ledger 120 vs broker 100")
}

func TestConsole_PrintLedger(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	l := domain.NewLedger()
	in := l.Ensure("AAA", "Alpha", 3)
	require.NoError(t, in.Open(1, 50, 20, at))
	l.Ensure("BBB", "Beta", 3)

	n.PrintLedger(l, map[string]float64{"AAA": 55})

	out := buf.String()
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "+10.00")
	assert.Contains(t, out, "cost basis $1000.00")
	assert.NotContains(t, out, "BBB")
}

func TestConsole_PrintLedger_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf).PrintLedger(domain.NewLedger(), nil)
	assert.Contains(t, buf.String(), "Ledger is empty")
}

func TestConsole_PrintTrades(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintTrades([]domain.TradeEvent{
		{Code: "AAA", Slot: 1, Side: domain.SideSell, Quantity: 6, Price: 55, Reason: domain.ReasonLadderStep1, RealizedPnL: 30, At: at},
		{Code: "AAA", Slot: 1, Side: domain.SideBuy, Quantity: 20, Price: 50, Score: 72, At: at.Add(-time.Hour)},
	})

	out := buf.String()
	assert.Contains(t, out, "ladder_t1")
	assert.Contains(t, out, "score 72")
	assert.Contains(t, out, "2 trades | realized $+30.00")
}

func TestConsole_PrintCycleStatus(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintCycleStatus(notify.CycleStatusInput{
		At:         at,
		MarketOpen: true,
		Regime:     domain.RegimeNeutral,
		Budget:     10000,
		Fills: []domain.TradeEvent{
			{Code: "AAA", Slot: 2, Side: domain.SideBuy, Quantity: 10, Price: 45},
		},
		Warnings: []string{"AAA: price moved"},
	})

	out := buf.String()
	assert.Contains(t, out, "+1 buys")
	assert.Contains(t, out, "BUY AAA s2 10 @ 45.00")
	assert.Contains(t, out, ">> AAA: price moved")
}

func TestConsole_PrintReconcile(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintReconcile(reconcile.Report{
		Results: []reconcile.Result{
			{Code: "AAA", Outcome: reconcile.Adopted, BrokerQty: 50, BrokerAvg: 10, Changed: true},
		},
		Changed: true,
	})

	out := buf.String()
	assert.Contains(t, out, "adopted")
	assert.Contains(t, out, "ledger updated")
}
