// Package reconcile brings the ledger back in line with the broker, which is
// the source of truth for what is actually held.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Outcome is what a reconciliation did to one instrument.
type Outcome string

const (
	InSync         Outcome = "in_sync"
	Adopted        Outcome = "adopted"
	Cleared        Outcome = "cleared"
	OccupancyFixed Outcome = "occupancy_fixed"
	Resynced       Outcome = "resynced"
	Conflict       Outcome = "conflict"
	// Deferred means an order is in flight, so holdings are expected to move.
	Deferred Outcome = "deferred"
)

// HoldingsSource is the slice of the broker reconciliation needs.
type HoldingsSource interface {
	Holdings(ctx context.Context, currency string) ([]domain.Holding, error)
}

// Config tunes reconciliation.
type Config struct {
	Currency string
	// BackdateDays is how far back an adopted holding's entry date is set, so
	// time-based rules treat it as an old position.
	BackdateDays int
	// PriceTolerance is the relative gap between ledger and broker average
	// price above which a single tranche takes the broker's price.
	PriceTolerance float64
}

func (c *Config) fill() {
	if c.BackdateDays <= 0 {
		c.BackdateDays = 30
	}
	if c.PriceTolerance <= 0 {
		c.PriceTolerance = 0.02
	}
}

// Result is the per-instrument outcome.
type Result struct {
	Code      string
	Outcome   Outcome
	LedgerQty int64
	BrokerQty int64
	BrokerAvg float64
	// Changed is true when tranche state was rewritten.
	Changed bool
	Alert   *domain.Alert
}

// Report aggregates a full pass.
type Report struct {
	At        time.Time
	Results   []Result
	Changed   bool
	Conflicts int
}

// Alerts returns every alert raised during the pass.
func (r Report) Alerts() []domain.Alert {
	var out []domain.Alert
	for _, res := range r.Results {
		if res.Alert != nil {
			out = append(out, *res.Alert)
		}
	}
	return out
}

// Service reconciles ledger instruments against broker holdings.
type Service struct {
	cfg    Config
	broker HoldingsSource
	now    func() time.Time
}

// New creates a reconciliation service.
func New(cfg Config, broker HoldingsSource) *Service {
	cfg.fill()
	return &Service{cfg: cfg, broker: broker, now: time.Now}
}

// WithClock overrides the clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// All reconciles every instrument in l. A holdings fetch failure is transient
// and leaves the ledger untouched.
func (s *Service) All(ctx context.Context, l *domain.Ledger) (Report, error) {
	holdings, err := s.broker.Holdings(ctx, s.cfg.Currency)
	if err != nil {
		return Report{}, domain.NewError(domain.KindTransient, "reconcile.All", "", err)
	}
	byCode := indexHoldings(holdings)

	now := s.now()
	rep := Report{At: now}
	for _, in := range l.Instruments {
		var res Result
		if _, pending := l.PendingFor(in.Code); pending {
			res = Result{Code: in.Code, Outcome: Deferred, LedgerQty: in.HeldQty()}
		} else {
			h := byCode[in.Code]
			res = s.Instrument(in, h, now)
		}
		if res.Changed {
			rep.Changed = true
		}
		if res.Outcome == Conflict {
			rep.Conflicts++
		}
		rep.Results = append(rep.Results, res)
	}

	slog.Info("reconcile: pass complete",
		"instruments", len(rep.Results),
		"changed", rep.Changed,
		"conflicts", rep.Conflicts,
	)
	return rep, nil
}

// One reconciles a single instrument, fetching holdings first.
func (s *Service) One(ctx context.Context, l *domain.Ledger, code string) (Result, error) {
	in := l.Get(code)
	if in == nil {
		return Result{}, fmt.Errorf("reconcile.One: %s not tracked", code)
	}
	holdings, err := s.broker.Holdings(ctx, s.cfg.Currency)
	if err != nil {
		return Result{}, domain.NewError(domain.KindTransient, "reconcile.One", code, err)
	}
	return s.Instrument(in, indexHoldings(holdings)[code], s.now()), nil
}

// Instrument applies the reconciliation rules to in given the broker holding
// h (zero value when the broker holds nothing). A conflict leaves in untouched.
func (s *Service) Instrument(in *domain.Instrument, h domain.Holding, now time.Time) Result {
	ledgerQty := in.HeldQty()
	res := Result{
		Code:      in.Code,
		LedgerQty: ledgerQty,
		BrokerQty: h.Quantity,
		BrokerAvg: h.AvgPrice,
	}

	switch {
	case h.Quantity > 0 && ledgerQty == 0:
		in.FixOccupancy()
		entry := now.AddDate(0, 0, -s.cfg.BackdateDays)
		if err := in.AdoptBrokerHolding(h.Quantity, h.AvgPrice, entry); err != nil {
			res.Outcome = Conflict
			res.Alert = conflictAlert(in.Code, now, fmt.Sprintf("cannot adopt broker holding: %v", err))
			break
		}
		res.Outcome = Adopted
		res.Changed = true
		res.Alert = &domain.Alert{
			Level:   domain.AlertWarning,
			Code:    in.Code,
			Message: fmt.Sprintf("adopted broker holding %d @ %.4f into slot 1", h.Quantity, h.AvgPrice),
			At:      now,
		}

	case h.Quantity <= 0 && ledgerQty > 0:
		in.ClearAll()
		res.Outcome = Cleared
		res.Changed = true
		res.Alert = &domain.Alert{
			Level:   domain.AlertWarning,
			Code:    in.Code,
			Message: fmt.Sprintf("broker holds nothing, cleared %d units from ledger", ledgerQty),
			At:      now,
		}

	case h.Quantity == ledgerQty:
		if in.FixOccupancy() {
			res.Outcome = OccupancyFixed
			res.Changed = true
		} else {
			res.Outcome = InSync
		}

	case in.OccupiedCount() == 1:
		avg := 0.0
		t := in.Occupied()[0]
		if h.AvgPrice > 0 && math.Abs(h.AvgPrice-t.EntryPrice)/t.EntryPrice > s.cfg.PriceTolerance {
			avg = h.AvgPrice
		}
		if err := in.ResyncSingle(h.Quantity, avg); err != nil {
			res.Outcome = Conflict
			res.Alert = conflictAlert(in.Code, now, err.Error())
			break
		}
		res.Outcome = Resynced
		res.Changed = true
		res.Alert = &domain.Alert{
			Level:   domain.AlertWarning,
			Code:    in.Code,
			Message: fmt.Sprintf("resynced slot %d from %d to %d units", t.Slot, ledgerQty, h.Quantity),
			At:      now,
		}

	default:
		res.Outcome = Conflict
		res.Alert = conflictAlert(in.Code, now,
			fmt.Sprintf("ledger holds %d across %d tranches, broker holds %d", ledgerQty, in.OccupiedCount(), h.Quantity))
	}

	if res.Outcome != Conflict {
		in.LastSync = domain.SyncInfo{
			At:             now,
			BrokerQty:      h.Quantity,
			BrokerAvgPrice: h.AvgPrice,
			Outcome:        string(res.Outcome),
		}
	}
	if res.Outcome != InSync {
		slog.Warn("reconcile: instrument adjusted",
			"code", in.Code,
			"outcome", res.Outcome,
			"ledger_qty", ledgerQty,
			"broker_qty", h.Quantity,
		)
	}
	return res
}

func conflictAlert(code string, now time.Time, msg string) *domain.Alert {
	return &domain.Alert{
		Level:   domain.AlertCritical,
		Code:    code,
		Kind:    domain.KindReconciliationConflict,
		Message: msg,
		At:      now,
	}
}

func indexHoldings(hs []domain.Holding) map[string]domain.Holding {
	out := make(map[string]domain.Holding, len(hs))
	for _, h := range hs {
		out[h.Code] = h
	}
	return out
}

// ValidateFill rejects fills that cannot be booked: nothing executed, a
// non-positive price, or a price more than tolerance away from the requested
// limit.
func ValidateFill(f domain.OrderFill, requested, tolerance float64) error {
	if f.FillQty <= 0 {
		return domain.NewError(domain.KindValidation, "reconcile.ValidateFill", f.Code,
			fmt.Errorf("order %s: no executed quantity", f.OrderID))
	}
	if f.FillPrice <= 0 {
		return domain.NewError(domain.KindValidation, "reconcile.ValidateFill", f.Code,
			fmt.Errorf("order %s: fill price %.4f", f.OrderID, f.FillPrice))
	}
	if requested > 0 && tolerance > 0 {
		if dev := math.Abs(f.FillPrice-requested) / requested; dev > tolerance {
			return domain.NewError(domain.KindValidation, "reconcile.ValidateFill", f.Code,
				fmt.Errorf("order %s: fill %.4f deviates %.2f%% from %.4f", f.OrderID, f.FillPrice, dev*100, requested))
		}
	}
	return nil
}
