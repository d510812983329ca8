package storage

import (
	"context"

	"solana-wallet-ledger/internal/domain"
)

// LedgerStore provides access to the per-wallet ledger: wallet_aggregates,
// wallet_positions, recent_events and applied_events.
//
// The aggregate row carries both the ledger fields and the poller cursor.
// Ledger writes go through Update and never touch the cursor column; the cursor
// is written only by SetCursor. Both writers therefore update disjoint columns
// of the same row and cannot lose each other's updates.
type LedgerStore interface {
	// Update runs fn as one atomic unit scoped to walletAddress.
	// Writes made through tx are committed only if fn returns nil.
	// Concurrent Update calls for the same wallet are serialized.
	Update(ctx context.Context, walletAddress string, fn func(tx LedgerTx) error) error

	// GetAggregate retrieves a wallet's aggregate. Returns ErrNotFound if not exists.
	GetAggregate(ctx context.Context, walletAddress string) (*domain.Aggregate, error)

	// GetAggregates retrieves aggregates for the given wallets. Missing wallets are skipped.
	GetAggregates(ctx context.Context, walletAddresses []string) ([]*domain.Aggregate, error)

	// GetPositions retrieves a wallet's positions ordered by asset_id ASC.
	GetPositions(ctx context.Context, walletAddress string) ([]*domain.Position, error)

	// GetRecentEvents retrieves up to limit audit rows, newest first.
	GetRecentEvents(ctx context.Context, walletAddress string, limit int) ([]*domain.RecentEvent, error)

	// GetCursor returns the last processed signature, or "" if none was saved.
	GetCursor(ctx context.Context, walletAddress string) (string, error)

	// SetCursor saves the last processed signature, creating the aggregate row if needed.
	SetCursor(ctx context.Context, walletAddress, signature string) error
}

// LedgerTx is the view of one wallet's ledger inside LedgerStore.Update.
type LedgerTx interface {
	// GetAggregate returns the wallet's aggregate. Returns ErrNotFound if not exists.
	GetAggregate(ctx context.Context) (*domain.Aggregate, error)

	// GetPosition returns the wallet's position in assetID. Returns ErrNotFound if not exists.
	GetPosition(ctx context.Context, assetID string) (*domain.Position, error)

	// IsEventApplied checks whether an event key was already applied.
	IsEventApplied(ctx context.Context, eventKey string) (bool, error)

	// MarkEventApplied records an event key. Returns ErrDuplicateKey if already recorded.
	MarkEventApplied(ctx context.Context, eventKey, txSignature string, appliedAt int64) error

	// UpsertPosition inserts or replaces the position row.
	UpsertPosition(ctx context.Context, p *domain.Position) error

	// UpsertAggregate inserts or replaces the ledger fields of the aggregate row.
	// LastProcessedSignature is ignored.
	UpsertAggregate(ctx context.Context, a *domain.Aggregate) error

	// AppendRecentEvent adds an audit row and prunes the wallet's rows with timestamp < pruneBefore.
	AppendRecentEvent(ctx context.Context, e *domain.RecentEvent, pruneBefore int64) error
}
