// Package paper is an in-memory broker for dry runs and tests. Limit orders
// match against the last known quote; nothing leaves the process.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

var (
	ErrMarketClosed      = errors.New("paper: market closed")
	ErrInsufficientCash  = errors.New("paper: insufficient cash")
	ErrInsufficientShare = errors.New("paper: insufficient holdings")
	ErrDuplicateClientID = errors.New("paper: duplicate client order id")
)

// QuoteSource supplies prices when none has been set by hand.
type QuoteSource interface {
	CurrentPrice(ctx context.Context, code string) (float64, error)
}

// Config configures the simulated account.
type Config struct {
	Cash float64
	Fees domain.Fees
	// Latency delays every fill by at least this long after submission.
	Latency time.Duration
}

type order struct {
	fill     domain.OrderFill
	limit    float64
	qty      int64
	reserved float64
	placed   time.Time
}

// Broker implements ports.Broker in memory.
type Broker struct {
	mu       sync.Mutex
	cfg      Config
	cash     float64
	prices   map[string]float64
	holdings map[string]*domain.Holding
	orders   []*order
	open     bool
	hold     bool
	quotes   QuoteSource
	now      func() time.Time
}

// New creates a paper broker with the market open.
func New(cfg Config) *Broker {
	return &Broker{
		cfg:      cfg,
		cash:     cfg.Cash,
		prices:   make(map[string]float64),
		holdings: make(map[string]*domain.Holding),
		open:     true,
		now:      time.Now,
	}
}

// WithQuotes makes the broker fall back to q for codes without a manual price.
func (b *Broker) WithQuotes(q QuoteSource) *Broker {
	b.quotes = q
	return b
}

// WithClock overrides the clock. Used by tests.
func (b *Broker) WithClock(now func() time.Time) *Broker {
	b.now = now
	return b
}

// SetPrice sets the quote orders for code match against.
func (b *Broker) SetPrice(code string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[code] = price
}

// SetMarketOpen toggles trading hours.
func (b *Broker) SetMarketOpen(open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
}

// HoldFills keeps every open order unfilled until released with false.
func (b *Broker) HoldFills(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = hold
}

// SetHolding overwrites a position, as if traded outside the bot.
func (b *Broker) SetHolding(code string, qty int64, avgPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if qty <= 0 {
		delete(b.holdings, code)
		return
	}
	b.holdings[code] = &domain.Holding{Code: code, Quantity: qty, AvgPrice: avgPrice}
}

// PlaceLimitBuy reserves cash for the order and matches it if the quote allows.
func (b *Broker) PlaceLimitBuy(ctx context.Context, clientID, code string, qty int64, price float64) (domain.OrderHandle, error) {
	return b.place(ctx, domain.SideBuy, clientID, code, qty, price)
}

// PlaceLimitSell matches a sell against the current quote.
func (b *Broker) PlaceLimitSell(ctx context.Context, clientID, code string, qty int64, price float64) (domain.OrderHandle, error) {
	return b.place(ctx, domain.SideSell, clientID, code, qty, price)
}

func (b *Broker) place(ctx context.Context, side domain.Side, clientID, code string, qty int64, price float64) (domain.OrderHandle, error) {
	if qty <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("paper.place %s: %w", code, domain.ErrBadQuantity)
	}
	if price <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("paper.place %s: %w", code, domain.ErrBadPrice)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return domain.OrderHandle{}, ErrMarketClosed
	}
	if clientID != "" {
		for _, o := range b.orders {
			if o.fill.ClientID == clientID {
				return domain.OrderHandle{}, fmt.Errorf("paper.place %s %s: %w", code, clientID, ErrDuplicateClientID)
			}
		}
	}

	o := &order{limit: price, qty: qty, placed: b.now()}
	switch side {
	case domain.SideBuy:
		need := b.cfg.Fees.BuyCost(price, qty)
		if need > b.cash {
			return domain.OrderHandle{}, fmt.Errorf("paper.place %s: need %.2f, have %.2f: %w", code, need, b.cash, ErrInsufficientCash)
		}
		b.cash -= need
		o.reserved = need
	case domain.SideSell:
		h := b.holdings[code]
		if h == nil || h.Quantity < qty+b.openSellQty(code) {
			return domain.OrderHandle{}, fmt.Errorf("paper.place %s: %w", code, ErrInsufficientShare)
		}
	}

	o.fill = domain.OrderFill{
		OrderID:  uuid.NewString(),
		ClientID: clientID,
		Code:     code,
		Side:     side,
		Status:   domain.OrderOpen,
		Time:     o.placed,
	}
	b.orders = append(b.orders, o)
	b.matchLocked(ctx)

	slog.Debug("paper: order placed", "code", code, "side", side, "qty", qty, "limit", price, "status", o.fill.Status)
	return domain.OrderHandle{
		OrderID:     o.fill.OrderID,
		ClientID:    clientID,
		Code:        code,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		SubmittedAt: o.placed,
	}, nil
}

// Holdings returns every non-zero position.
func (b *Broker) Holdings(ctx context.Context, _ string) ([]domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matchLocked(ctx)

	out := make([]domain.Holding, 0, len(b.holdings))
	for _, h := range b.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// OrderHistory returns orders matching q, newest first.
func (b *Broker) OrderHistory(ctx context.Context, q domain.OrderQuery) ([]domain.OrderFill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matchLocked(ctx)

	now := b.now()
	var out []domain.OrderFill
	for i := len(b.orders) - 1; i >= 0; i-- {
		f := b.orders[i].fill
		switch {
		case q.Code != "" && f.Code != q.Code:
		case q.Side != "" && f.Side != q.Side:
		case q.Status != "" && f.Status != q.Status:
		case q.OrderID != "" && f.OrderID != q.OrderID:
		case q.ClientID != "" && f.ClientID != q.ClientID:
		case q.Lookback > 0 && now.Sub(b.orders[i].placed) > q.Lookback:
		default:
			out = append(out, f)
		}
	}
	return out, nil
}

// Balance values holdings at the last quote.
func (b *Broker) Balance(ctx context.Context, _ string) (domain.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matchLocked(ctx)

	total := b.cash
	for _, o := range b.orders {
		if o.fill.Status == domain.OrderOpen {
			total += o.reserved
		}
	}
	for code, h := range b.holdings {
		px, ok := b.quoteLocked(ctx, code)
		if !ok {
			px = h.AvgPrice
		}
		total += px * float64(h.Quantity)
	}
	return domain.Balance{Total: total, Cash: b.cash}, nil
}

func (b *Broker) IsMarketOpen(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open, nil
}

// matchLocked fills every open order whose limit the quote satisfies.
func (b *Broker) matchLocked(ctx context.Context) {
	if b.hold {
		return
	}
	now := b.now()
	for _, o := range b.orders {
		if o.fill.Status != domain.OrderOpen || now.Sub(o.placed) < b.cfg.Latency {
			continue
		}
		px, ok := b.quoteLocked(ctx, o.fill.Code)
		if !ok {
			continue
		}
		switch o.fill.Side {
		case domain.SideBuy:
			if px > o.limit {
				continue
			}
			cost := b.cfg.Fees.BuyCost(px, o.qty)
			b.cash += o.reserved - cost
			h := b.holdings[o.fill.Code]
			if h == nil {
				h = &domain.Holding{Code: o.fill.Code}
				b.holdings[o.fill.Code] = h
			}
			h.AvgPrice = (h.AvgPrice*float64(h.Quantity) + px*float64(o.qty)) / float64(h.Quantity+o.qty)
			h.Quantity += o.qty
		case domain.SideSell:
			h := b.holdings[o.fill.Code]
			if px < o.limit || h == nil || h.Quantity < o.qty {
				continue
			}
			gross := px * float64(o.qty)
			b.cash += gross - gross*(b.cfg.Fees.CommissionRate+b.cfg.Fees.TaxRate)
			h.Quantity -= o.qty
			if h.Quantity == 0 {
				delete(b.holdings, o.fill.Code)
			}
		}
		o.reserved = 0
		o.fill.Status = domain.OrderFilled
		o.fill.FillPrice = px
		o.fill.FillQty = o.qty
		o.fill.Time = now
	}
}

func (b *Broker) quoteLocked(ctx context.Context, code string) (float64, bool) {
	if px, ok := b.prices[code]; ok && px > 0 {
		return px, true
	}
	if b.quotes == nil {
		return 0, false
	}
	px, err := b.quotes.CurrentPrice(ctx, code)
	if err != nil || px <= 0 {
		return 0, false
	}
	return px, true
}

func (b *Broker) openSellQty(code string) int64 {
	var n int64
	for _, o := range b.orders {
		if o.fill.Code == code && o.fill.Side == domain.SideSell && o.fill.Status == domain.OrderOpen {
			n += o.qty
		}
	}
	return n
}
