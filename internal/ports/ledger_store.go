package ports

import (
	"context"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// LedgerStore makes the ledger durable. Save must not return until the new
// state is on disk, and must leave the previous state intact when it fails.
type LedgerStore interface {
	// Load returns the stored ledger, or an empty one if none exists yet.
	Load(ctx context.Context) (*domain.Ledger, error)

	Save(ctx context.Context, l *domain.Ledger) error
}
