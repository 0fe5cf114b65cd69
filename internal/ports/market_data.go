package ports

import (
	"context"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// MarketData supplies price series and quotes.
type MarketData interface {
	// Series returns up to lookback bars at interval, oldest first.
	Series(ctx context.Context, code, interval string, lookback int) ([]domain.Candle, error)

	CurrentPrice(ctx context.Context, code string) (float64, error)
}

// SentimentProvider supplies the latest news-sentiment read per instrument.
type SentimentProvider interface {
	Sentiment(ctx context.Context, code string) (domain.Sentiment, error)
}
