package domain

import "github.com/shopspring/decimal"

// AppliedSwap is a swap event together with the prices and PnL the ledger
// booked for it. Written to the analytics archive.
type AppliedSwap struct {
	EventKey      string
	WalletAddress string
	TxSignature   string
	EventIndex    int
	Slot          int64
	Timestamp     int64 // Unix milliseconds
	AssetIn       string
	QuantityIn    decimal.Decimal
	PriceInUSD    decimal.Decimal
	AssetOut      string
	QuantityOut   decimal.Decimal
	PriceOutUSD   decimal.Decimal
	PnLUSD        decimal.Decimal
	AppliedAt     int64 // Unix milliseconds
}
