package domain

import "github.com/shopspring/decimal"

// Position is the blended-cost holding of one asset by one wallet.
// AvgCostUSD is only meaningful while Quantity > 0 and is reset to zero otherwise.
type Position struct {
	WalletAddress string
	AssetID       string
	Quantity      decimal.Decimal // never negative
	AvgCostUSD    decimal.Decimal // USD per unit
	UpdatedAt     int64           // Unix timestamp in milliseconds
}

// IsOpen reports whether the position still holds a positive quantity.
func (p *Position) IsOpen() bool {
	return p != nil && p.Quantity.IsPositive()
}

// Clone returns a copy safe to mutate.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
