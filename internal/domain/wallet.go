package domain

import "github.com/shopspring/decimal"

// TrackedWallet is one watchlist entry. Unique per (OwnerID, Address).
type TrackedWallet struct {
	OwnerID   string // user that tracks the wallet
	Address   string // base58 wallet address
	Label     string // optional display name
	CreatedAt int64  // Unix timestamp in milliseconds
}

// DisplayName returns the label, or the address when no label was given.
func (w *TrackedWallet) DisplayName() string {
	if w.Label != "" {
		return w.Label
	}
	return w.Address
}

// BestPlay is a leaderboard row built from a wallet's aggregate.
type BestPlay struct {
	WalletAddress string
	Label         string
	Signature     string
	PnLUSD        decimal.Decimal
	Summary       string
}
