package ports

import (
	"context"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Broker is the brokerage account the bot trades through. The broker is the
// source of truth for holdings; the ledger only caches it.
type Broker interface {
	// PlaceLimitBuy submits a limit buy and returns its handle without
	// waiting for a fill. clientID is echoed back on every execution of the
	// order.
	PlaceLimitBuy(ctx context.Context, clientID, code string, qty int64, price float64) (domain.OrderHandle, error)

	// PlaceLimitSell submits a limit sell.
	PlaceLimitSell(ctx context.Context, clientID, code string, qty int64, price float64) (domain.OrderHandle, error)

	// Holdings returns every position held in the given currency.
	Holdings(ctx context.Context, currency string) ([]domain.Holding, error)

	// OrderHistory returns executions matching q, newest first.
	OrderHistory(ctx context.Context, q domain.OrderQuery) ([]domain.OrderFill, error)

	// Balance returns total account value and available cash.
	Balance(ctx context.Context, currency string) (domain.Balance, error)

	IsMarketOpen(ctx context.Context) (bool, error)
}
