package storage

import (
	"context"

	"solana-wallet-ledger/internal/domain"
)

// WatchlistStore provides access to tracked_wallets storage.
type WatchlistStore interface {
	// Add inserts a tracked wallet. Returns ErrDuplicateKey if (owner_id, address) exists.
	Add(ctx context.Context, w *domain.TrackedWallet) error

	// Remove deletes a tracked wallet. Returns ErrNotFound if not exists.
	Remove(ctx context.Context, ownerID, address string) error

	// ListByOwner retrieves an owner's wallets ordered by created_at ASC.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.TrackedWallet, error)

	// DistinctAddresses returns every tracked address once, across all owners, sorted.
	DistinctAddresses(ctx context.Context) ([]string, error)
}

// EventArchive is an append-only analytics sink for applied swap events.
type EventArchive interface {
	// InsertBulk appends rows. Duplicates are collapsed by the backend.
	InsertBulk(ctx context.Context, rows []*domain.AppliedSwap) error

	// GetByWallet retrieves rows for a wallet within [start, end] (inclusive), ordered by timestamp ASC.
	GetByWallet(ctx context.Context, walletAddress string, start, end int64) ([]*domain.AppliedSwap, error)
}
