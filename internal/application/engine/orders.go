package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/exit"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

// stopLossSlot marks a pending sell that liquidates every tranche.
const stopLossSlot = 0

// buy submits the entry order for d and books it once confirmed. An order
// that does not confirm in time is parked as pending.
func (b *Bot) buy(ctx context.Context, d entry.Decision, res *CycleResult) error {
	code := d.Code

	// 1. Price jump guard against the decision price
	px, err := b.deps.Market.CurrentPrice(ctx, code)
	if err != nil {
		return domain.NewError(domain.KindTransient, "engine.buy", code, err)
	}
	if jump := math.Abs(px-d.Price) / d.Price; jump > b.cfg.PriceJumpLimit {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s: price moved %.2f%% since decision, buy aborted", code, jump*100))
		slog.Warn("engine: price jump, buy aborted", "code", code, "decision", d.Price, "now", px)
		return nil
	}

	// 2. Broker snapshot before the order
	before, err := b.brokerQty(ctx, code)
	if err != nil {
		return err
	}

	// 3. Place at a cushioned limit
	limit := cushion(px, b.cfg.BuyCushion)
	clientID := uuid.NewString()
	h, err := b.deps.Broker.PlaceLimitBuy(ctx, clientID, code, d.Quantity, limit)
	if err != nil {
		return domain.NewError(domain.KindTransient, "engine.buy", code, fmt.Errorf("place: %w", err))
	}
	if h.ClientID == "" {
		h.ClientID = clientID
	}
	if h.SubmittedAt.IsZero() {
		h.SubmittedAt = b.now()
	}
	slog.Info("engine: buy placed", "code", code, "slot", d.Slot, "qty", d.Quantity, "limit", limit, "order", h.OrderID)

	p := domain.PendingOrder{
		OrderHandle: h,
		Slot:        d.Slot,
		HeldBefore:  before,
		Reentry:     d.Reentry,
		Score:       d.Score.Total(),
	}
	return b.confirm(ctx, p, res)
}

// sell submits the plan's orders. A stop loss goes out as one order for the
// whole position.
func (b *Bot) sell(ctx context.Context, plan exit.Plan, price float64, res *CycleResult) error {
	code := plan.Code
	if plan.StopLoss {
		var qty int64
		for _, o := range plan.Orders {
			qty += o.Quantity
		}
		return b.placeSell(ctx, code, stopLossSlot, qty, domain.ReasonStopLoss, price, res)
	}
	for _, o := range plan.Orders {
		if err := b.placeSell(ctx, code, o.Slot, o.Quantity, o.Reason, price, res); err != nil {
			return err
		}
		if _, pending := b.ledger.PendingFor(code); pending {
			return nil
		}
	}
	return nil
}

func (b *Bot) placeSell(ctx context.Context, code string, slot int, qty int64, reason domain.ExitReason, price float64, res *CycleResult) error {
	before, err := b.brokerQty(ctx, code)
	if err != nil {
		return err
	}
	limit := cushion(price, -b.cfg.SellCushion)
	clientID := uuid.NewString()
	h, err := b.deps.Broker.PlaceLimitSell(ctx, clientID, code, qty, limit)
	if err != nil {
		return domain.NewError(domain.KindTransient, "engine.sell", code, fmt.Errorf("place: %w", err))
	}
	if h.ClientID == "" {
		h.ClientID = clientID
	}
	if h.SubmittedAt.IsZero() {
		h.SubmittedAt = b.now()
	}
	slog.Info("engine: sell placed", "code", code, "slot", slot, "qty", qty, "limit", limit, "reason", reason, "order", h.OrderID)

	p := domain.PendingOrder{OrderHandle: h, Slot: slot, HeldBefore: before, Reason: reason}
	return b.confirm(ctx, p, res)
}

// confirm polls for the fill. On timeout the order is recorded as pending;
// it is not cancelled.
func (b *Bot) confirm(ctx context.Context, p domain.PendingOrder, res *CycleResult) error {
	fill, done, err := b.awaitFill(ctx, p.OrderHandle)
	if err != nil {
		return err
	}
	if !done {
		slog.Warn("engine: fill not confirmed, order pending", "code", p.Code, "order", p.OrderID)
		return b.commit(ctx, "engine.pending", func(l *domain.Ledger) error {
			return l.AddPending(p)
		})
	}
	return b.book(ctx, p, fill, res)
}

// awaitFill polls order history until the order fills or dies, giving up
// after ConfirmTimeout worth of ConfirmInterval waits.
func (b *Bot) awaitFill(ctx context.Context, h domain.OrderHandle) (domain.OrderFill, bool, error) {
	polls := int(b.cfg.ConfirmTimeout / b.cfg.ConfirmInterval)
	for attempt := 0; ; attempt++ {
		f, found, err := b.lookup(ctx, h)
		if err != nil {
			slog.Debug("engine: order lookup failed", "order", h.OrderID, "err", err)
		}
		if found {
			switch f.Status {
			case domain.OrderFilled:
				return f, true, nil
			case domain.OrderCancelled, domain.OrderRejected:
				return domain.OrderFill{}, false, domain.NewError(domain.KindValidation, "engine.awaitFill", h.Code,
					fmt.Errorf("order %s %s", h.OrderID, f.Status))
			}
		}
		if attempt >= polls {
			return domain.OrderFill{}, false, nil
		}
		if err := b.sleep(ctx, b.cfg.ConfirmInterval); err != nil {
			return domain.OrderFill{}, false, nil
		}
	}
}

// lookup finds the execution record of h. Both the broker order id and the
// client id must match.
func (b *Bot) lookup(ctx context.Context, h domain.OrderHandle) (domain.OrderFill, bool, error) {
	q := domain.OrderQuery{Code: h.Code, OrderID: h.OrderID, ClientID: h.ClientID}
	fills, err := b.deps.Broker.OrderHistory(ctx, q)
	if err != nil {
		return domain.OrderFill{}, false, err
	}
	for _, f := range fills {
		if f.OrderID != h.OrderID {
			continue
		}
		if h.ClientID != "" && f.ClientID != h.ClientID {
			slog.Warn("engine: execution client id mismatch", "order", h.OrderID, "want", h.ClientID, "got", f.ClientID)
			continue
		}
		return f, true, nil
	}
	return domain.OrderFill{}, false, nil
}

// book validates a confirmed fill and writes it into the ledger, then
// reconciles the instrument against the broker.
func (b *Bot) book(ctx context.Context, p domain.PendingOrder, f domain.OrderFill, res *CycleResult) error {
	code := p.Code
	if err := reconcile.ValidateFill(f, p.Price, b.cfg.FillTolerance); err != nil {
		b.notify(ctx, domain.Alert{
			Level: domain.AlertCritical, Code: code, Kind: domain.KindValidation,
			Message: fmt.Sprintf("fill rejected: %v", err), At: b.now(),
		})
		if cerr := b.commit(ctx, "engine.book", func(l *domain.Ledger) error {
			l.ResolvePending(code)
			return nil
		}); cerr != nil {
			slog.Error("engine: rejected fill could not be cleared", "code", code, "order", f.OrderID, "err", cerr)
			return domain.NewError(domain.KindPersistence, "engine.book", code, fmt.Errorf("%v; clear pending: %w", err, cerr))
		}
		return err
	}

	qty := f.FillQty
	after, err := b.brokerQty(ctx, code)
	if err == nil {
		delta := after - p.HeldBefore
		if p.Side == domain.SideSell {
			delta = p.HeldBefore - after
		}
		if delta > 0 && delta < qty {
			slog.Warn("engine: broker delta below fill qty", "code", code, "fill", qty, "delta", delta)
			qty = delta
		}
	}
	at := f.Time
	if at.IsZero() {
		at = b.now()
	}

	var fills []Fill
	err = b.commit(ctx, "engine.book", func(l *domain.Ledger) error {
		l.ResolvePending(code)
		in := l.Get(code)
		if in == nil {
			return fmt.Errorf("engine.book: %s not tracked", code)
		}
		if p.Side == domain.SideBuy {
			if err := in.Open(p.Slot, f.FillPrice, qty, at); err != nil {
				return err
			}
			in.DailyBuys.Inc(at)
			l.DailyTrades.Inc(at)
			if p.Reentry {
				in.LastReentryDay = domain.DayKey(at)
			}
			fills = append(fills, Fill{Code: code, Slot: p.Slot, Side: domain.SideBuy, Quantity: qty, Price: f.FillPrice, OrderID: f.OrderID})
			return nil
		}
		recs, err := b.applySell(in, p, qty, f.FillPrice, at)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fills = append(fills, Fill{
				Code: code, Slot: r.Slot, Side: domain.SideSell, Quantity: r.Quantity, Price: r.Price,
				Reason: r.Reason, RealizedPnL: r.RealizedPnL, OrderID: f.OrderID,
			})
		}
		return nil
	})
	if err != nil {
		if !domain.IsKind(err, domain.KindPersistence) {
			err = domain.NewError(domain.KindReconciliationConflict, "engine.book", code, err)
			b.notify(ctx, domain.Alert{
				Level: domain.AlertCritical, Code: code, Kind: domain.KindReconciliationConflict,
				Message: fmt.Sprintf("fill %s could not be booked: %v", f.OrderID, err), At: b.now(),
			})
		}
		return err
	}

	for _, fl := range fills {
		b.record(ctx, fl, p.Score, at, res)
	}

	// Reconcile the instrument right after the fill.
	var rr reconcile.Result
	if err := b.commit(ctx, "engine.reconcileAfterFill", func(l *domain.Ledger) error {
		r, err := b.deps.Reconciler.One(ctx, l, code)
		rr = r
		return err
	}); err != nil {
		slog.Warn("engine: post-fill reconciliation failed", "code", code, "err", err)
		return nil
	}
	b.deps.Metrics.Reconciled(string(rr.Outcome))
	if rr.Alert != nil {
		res.Alerts = append(res.Alerts, *rr.Alert)
		b.notify(ctx, *rr.Alert)
	}
	return nil
}

// applySell books a sell of qty against one tranche, or across every
// tranche for a stop loss (newest slot first).
func (b *Bot) applySell(in *domain.Instrument, p domain.PendingOrder, qty int64, price float64, at time.Time) ([]domain.SaleRecord, error) {
	if p.Slot != stopLossSlot {
		rec, err := in.ApplySale(p.Slot, qty, price, at, p.Reason, b.cfg.Fees)
		if err != nil {
			return nil, err
		}
		return []domain.SaleRecord{rec}, nil
	}

	occ := in.Occupied()
	sort.Slice(occ, func(i, j int) bool { return occ[i].Slot > occ[j].Slot })
	var recs []domain.SaleRecord
	left := qty
	for _, t := range occ {
		if left == 0 {
			break
		}
		n := min(left, t.CurrentQty)
		rec, err := in.ApplySale(t.Slot, n, price, at, p.Reason, b.cfg.Fees)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		left -= n
	}
	return recs, nil
}

// record publishes a booked fill to the result, journal and metrics.
func (b *Bot) record(ctx context.Context, f Fill, score float64, at time.Time, res *CycleResult) {
	if f.Side == domain.SideBuy {
		res.Entries = append(res.Entries, f)
		b.deps.Metrics.Entry(f.Code, f.Slot)
	} else {
		res.Exits = append(res.Exits, f)
		b.deps.Metrics.Exit(f.Code, string(f.Reason))
	}
	slog.Info("engine: fill booked",
		"code", f.Code,
		"slot", f.Slot,
		"side", f.Side,
		"qty", f.Quantity,
		"price", f.Price,
		"reason", f.Reason,
		"pnl", fmt.Sprintf("%.2f", f.RealizedPnL),
	)
	if b.deps.Journal == nil {
		return
	}
	ev := domain.TradeEvent{
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
	if f.Side == domain.SideBuy {
		ev.Score = score
	}
	if err := b.deps.Journal.RecordTrade(ctx, ev); err != nil {
		slog.Warn("engine: journal trade failed", "code", f.Code, "err", err)
	}
}

// resolvePending books, drops or keeps each pending order. Expired orders
// are dropped and their instrument reconciled against the broker.
func (b *Bot) resolvePending(ctx context.Context, res *CycleResult) {
	codes := make([]string, 0, len(b.ledger.Pending))
	for code := range b.ledger.Pending {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		p, ok := b.ledger.PendingFor(code)
		if !ok {
			continue
		}
		f, found, err := b.lookup(ctx, p.OrderHandle)
		if err != nil {
			b.fail(res, domain.NewError(domain.KindTransient, "engine.resolvePending", code, err))
			continue
		}

		switch {
		case found && f.Status == domain.OrderFilled:
			slog.Info("engine: pending order filled", "code", code, "order", p.OrderID)
			if err := b.book(ctx, p, f, res); err != nil {
				b.fail(res, err)
			}

		case found && (f.Status == domain.OrderCancelled || f.Status == domain.OrderRejected),
			p.Expired(res.StartedAt, b.cfg.PendingMaxAge):
			slog.Warn("engine: pending order dropped", "code", code, "order", p.OrderID, "status", f.Status)
			var rr reconcile.Result
			err := b.commit(ctx, "engine.resolvePending", func(l *domain.Ledger) error {
				l.ResolvePending(code)
				r, err := b.deps.Reconciler.One(ctx, l, code)
				rr = r
				return err
			})
			if err != nil {
				b.fail(res, err)
				continue
			}
			b.deps.Metrics.Reconciled(string(rr.Outcome))
			if rr.Alert != nil {
				res.Alerts = append(res.Alerts, *rr.Alert)
				b.notify(ctx, *rr.Alert)
			}
		}
	}
}

func (b *Bot) brokerQty(ctx context.Context, code string) (int64, error) {
	hs, err := b.deps.Broker.Holdings(ctx, b.cfg.Currency)
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "engine.brokerQty", code, err)
	}
	for _, h := range hs {
		if h.Code == code {
			return h.Quantity, nil
		}
	}
	return 0, nil
}

// cushion moves price by rate (negative for sells), rounded to 4 decimals.
func cushion(price, rate float64) float64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(1 + rate)).
		Round(4).
		InexactFloat64()
}
