package poller

import (
	"context"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/helius"
	"solana-wallet-ledger/internal/ledger"
	"solana-wallet-ledger/internal/solana"
)

// SignatureSource lists a wallet's recent signatures, newest first.
type SignatureSource interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error)
}

// TransactionSource enriches signatures into parsed transactions.
type TransactionSource interface {
	GetTransactions(ctx context.Context, signatures []string) ([]helius.EnhancedTransaction, error)
}

// EventNormalizer extracts a wallet's swap events from one transaction.
type EventNormalizer interface {
	Normalize(tx *helius.EnhancedTransaction, wallet string) []domain.SwapEvent
}

// EventApplier books swap events.
type EventApplier interface {
	Apply(ctx context.Context, ev domain.SwapEvent) (ledger.Result, error)
}

// CursorStore persists the last processed signature per wallet.
type CursorStore interface {
	GetCursor(ctx context.Context, walletAddress string) (string, error)
	SetCursor(ctx context.Context, walletAddress, signature string) error
}
