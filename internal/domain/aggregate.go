package domain

import "github.com/shopspring/decimal"

// Aggregate is the per-wallet PnL summary and the poller's resume cursor.
type Aggregate struct {
	WalletAddress          string
	LastProcessedSignature string // poller cursor, empty before the first cycle

	TotalTrades    int64
	Wins           int64
	Losses         int64
	RealizedPnLUSD decimal.Decimal
	RealizedPnLSOL decimal.Decimal

	BestPlaySignature string // empty until the first event is applied
	BestPlayPnLUSD    decimal.Decimal
	BestPlaySummary   string

	UpdatedAt int64 // Unix timestamp in milliseconds
}

// NewAggregate returns the zero-valued aggregate for a wallet.
func NewAggregate(wallet string) *Aggregate {
	return &Aggregate{
		WalletAddress:  wallet,
		RealizedPnLUSD: decimal.Zero,
		RealizedPnLSOL: decimal.Zero,
		BestPlayPnLUSD: decimal.Zero,
	}
}

// HasBestPlay reports whether a best play has been recorded.
func (a *Aggregate) HasBestPlay() bool {
	return a.BestPlaySignature != ""
}

// Clone returns a copy safe to mutate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
