package ports

import (
	"context"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Alert(ctx context.Context, a domain.Alert) error
}
