package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

// WatchlistStore implements storage.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	pool *Pool
}

// NewWatchlistStore creates a new WatchlistStore.
func NewWatchlistStore(pool *Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatchlistStore = (*WatchlistStore)(nil)

// Add inserts a tracked wallet. Returns ErrDuplicateKey if (owner_id, address) exists.
func (s *WatchlistStore) Add(ctx context.Context, w *domain.TrackedWallet) error {
	if w == nil || w.OwnerID == "" || w.Address == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_wallets (owner_id, address, label, created_at)
		VALUES ($1, $2, $3, $4)
	`, w.OwnerID, w.Address, w.Label, w.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return errors.Wrap(err, "insert tracked wallet")
	}
	return nil
}

// Remove deletes a tracked wallet. Returns ErrNotFound if not exists.
func (s *WatchlistStore) Remove(ctx context.Context, ownerID, address string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tracked_wallets WHERE owner_id = $1 AND address = $2
	`, ownerID, address)
	if err != nil {
		return errors.Wrap(err, "delete tracked wallet")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByOwner retrieves an owner's wallets ordered by created_at ASC.
func (s *WatchlistStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.TrackedWallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_id, address, label, created_at
		FROM tracked_wallets
		WHERE owner_id = $1
		ORDER BY created_at ASC, address ASC
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "query tracked wallets")
	}
	defer rows.Close()

	return scanTrackedWallets(rows)
}

// DistinctAddresses returns every tracked address once, sorted.
func (s *WatchlistStore) DistinctAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT address FROM tracked_wallets ORDER BY address ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query distinct addresses")
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, errors.Wrap(err, "scan address")
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

func scanTrackedWallets(rows pgx.Rows) ([]*domain.TrackedWallet, error) {
	var result []*domain.TrackedWallet
	for rows.Next() {
		var w domain.TrackedWallet
		if err := rows.Scan(&w.OwnerID, &w.Address, &w.Label, &w.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan tracked wallet")
		}
		result = append(result, &w)
	}
	return result, rows.Err()
}
