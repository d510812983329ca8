package domain

import "github.com/shopspring/decimal"

// WrappedSOLMint is the mint used to represent native SOL legs of a swap.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL converts native lamport amounts to SOL.
const LamportsPerSOL = 1_000_000_000

// AssetAmount is one side of a swap.
type AssetAmount struct {
	AssetID  string          // token mint address, empty when the side is absent
	Quantity decimal.Decimal // UI amount (already scaled by decimals)
}

// IsZero reports whether the side carries no asset or no quantity.
func (a AssetAmount) IsZero() bool {
	return a.AssetID == "" || !a.Quantity.IsPositive()
}

// SwapEvent is a canonical swap leg belonging to one tracked wallet.
// Produced once per qualifying swap sub-event of a transaction.
type SwapEvent struct {
	WalletAddress string      // tracked wallet
	TxSignature   string      // transaction signature
	EventIndex    int         // index of the swap sub-event within the transaction
	Slot          int64       // Solana slot number
	Timestamp     int64       // Unix timestamp in milliseconds
	AssetIn       AssetAmount // asset given up by the wallet
	AssetOut      AssetAmount // asset received by the wallet
}
