package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Journal is the append-only history of fills, alerts and cycles. It is a
// reporting aid; the ledger never reads it back to make decisions.
type Journal interface {
	RecordTrade(ctx context.Context, ev domain.TradeEvent) error
	RecordAlert(ctx context.Context, a domain.Alert) error
	RecordCycle(ctx context.Context, s domain.CycleSummary) error

	// Trades returns trades at or after since, newest first.
	Trades(ctx context.Context, since time.Time, limit int) ([]domain.TradeEvent, error)

	Close() error
}
