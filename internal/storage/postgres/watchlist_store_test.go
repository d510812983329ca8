package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

func TestWatchlistStore_AddListRemove(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatchlistStore(pool)

	require.NoError(t, store.Add(ctx, &domain.TrackedWallet{OwnerID: "owner1", Address: "walletB", Label: "whale", CreatedAt: 2000}))
	require.NoError(t, store.Add(ctx, &domain.TrackedWallet{OwnerID: "owner1", Address: "walletA", CreatedAt: 1000}))
	require.NoError(t, store.Add(ctx, &domain.TrackedWallet{OwnerID: "owner2", Address: "walletB", CreatedAt: 3000}))

	wallets, err := store.ListByOwner(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "walletA", wallets[0].Address)
	assert.Equal(t, "walletB", wallets[1].Address)
	assert.Equal(t, "whale", wallets[1].Label)

	addresses, err := store.DistinctAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"walletA", "walletB"}, addresses)

	require.NoError(t, store.Remove(ctx, "owner1", "walletB"))
	assert.ErrorIs(t, store.Remove(ctx, "owner1", "walletB"), storage.ErrNotFound)

	// Still tracked by owner2.
	addresses, err = store.DistinctAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"walletA", "walletB"}, addresses)
}

func TestWatchlistStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatchlistStore(pool)

	w := &domain.TrackedWallet{OwnerID: "owner1", Address: "walletA", CreatedAt: 1000}
	require.NoError(t, store.Add(ctx, w))
	assert.ErrorIs(t, store.Add(ctx, w), storage.ErrDuplicateKey)
}

func TestWatchlistStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWatchlistStore(pool)
	assert.ErrorIs(t, store.Add(context.Background(), &domain.TrackedWallet{OwnerID: "owner1"}), storage.ErrInvalidInput)
}
