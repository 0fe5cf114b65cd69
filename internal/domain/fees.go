package domain

import "github.com/shopspring/decimal"

// Fees are the broker costs applied to a round trip.
type Fees struct {
	CommissionRate float64 // charged on both legs
	TaxRate        float64 // charged on the sell leg
}

// RealizedPnL is the net profit of buying qty at entry and selling at exit.
func (f Fees) RealizedPnL(entry, exit float64, qty int64) float64 {
	q := decimal.NewFromInt(qty)
	bought := decimal.NewFromFloat(entry).Mul(q)
	sold := decimal.NewFromFloat(exit).Mul(q)
	comm := decimal.NewFromFloat(f.CommissionRate)
	costs := bought.Mul(comm).
		Add(sold.Mul(comm)).
		Add(sold.Mul(decimal.NewFromFloat(f.TaxRate)))
	return sold.Sub(bought).Sub(costs).Round(4).InexactFloat64()
}

// BuyCost is the cash needed to buy qty at price including commission.
func (f Fees) BuyCost(price float64, qty int64) float64 {
	gross := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	return gross.Mul(decimal.NewFromFloat(1 + f.CommissionRate)).Round(4).InexactFloat64()
}
