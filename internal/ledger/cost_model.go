package ledger

import (
	"github.com/shopspring/decimal"

	"solana-wallet-ledger/internal/domain"
)

// CostModel books one side of a swap against the wallet's prior position in
// that asset. A nil next position means the position is left untouched.
type CostModel interface {
	// Receive books qty of an asset the wallet received. costUSD is the value
	// of what the wallet gave up for it.
	Receive(prior *domain.Position, qty, priceUSD, costUSD decimal.Decimal) (next *domain.Position, pnlUSD decimal.Decimal)

	// Spend books qty of an asset the wallet gave up.
	Spend(prior *domain.Position, qty, priceUSD decimal.Decimal) (next *domain.Position, pnlUSD decimal.Decimal)
}

// AverageCost is a single blended cost basis per (wallet, asset).
//
// Receiving an asset that is already held is booked as a reduction of that
// holding at the received price, not as an add-on buy. Together with Spend this
// means a round-trip swap can realize PnL on both of its sides. Both quirks are
// kept for ledger compatibility and are confined to this type.
type AverageCost struct{}

// Receive opens a position at cost/qty, or reduces an open one.
func (AverageCost) Receive(prior *domain.Position, qty, priceUSD, costUSD decimal.Decimal) (*domain.Position, decimal.Decimal) {
	if prior.IsOpen() {
		return reduce(prior, qty, priceUSD)
	}
	if !qty.IsPositive() {
		return nil, decimal.Zero
	}
	return &domain.Position{
		Quantity:   qty,
		AvgCostUSD: costUSD.Div(qty),
	}, decimal.Zero
}

// Spend reduces an open position. Spending an asset with no open position
// realizes nothing.
func (AverageCost) Spend(prior *domain.Position, qty, priceUSD decimal.Decimal) (*domain.Position, decimal.Decimal) {
	if !qty.IsPositive() || !prior.IsOpen() {
		return nil, decimal.Zero
	}
	return reduce(prior, qty, priceUSD)
}

// reduce sells min(held, qty) at priceUSD. The cost basis resets once the
// position is flat so a re-entry starts fresh.
func reduce(prior *domain.Position, qty, priceUSD decimal.Decimal) (*domain.Position, decimal.Decimal) {
	sellQty := decimal.Min(prior.Quantity, qty)
	if !sellQty.IsPositive() {
		return nil, decimal.Zero
	}

	pnl := sellQty.Mul(priceUSD).Sub(sellQty.Mul(prior.AvgCostUSD))

	next := prior.Clone()
	next.Quantity = prior.Quantity.Sub(sellQty)
	if !next.Quantity.IsPositive() {
		next.Quantity = decimal.Zero
		next.AvgCostUSD = decimal.Zero
	}
	return next, pnl
}

var _ CostModel = AverageCost{}
