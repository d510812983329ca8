package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

type watchlistKey struct {
	ownerID string
	address string
}

// WatchlistStore is an in-memory implementation of storage.WatchlistStore.
type WatchlistStore struct {
	mu      sync.RWMutex
	wallets map[watchlistKey]*domain.TrackedWallet
}

// NewWatchlistStore creates a new in-memory watchlist store.
func NewWatchlistStore() *WatchlistStore {
	return &WatchlistStore{
		wallets: make(map[watchlistKey]*domain.TrackedWallet),
	}
}

// Add inserts a tracked wallet. Returns ErrDuplicateKey if (owner_id, address) exists.
func (s *WatchlistStore) Add(_ context.Context, w *domain.TrackedWallet) error {
	if w == nil || w.OwnerID == "" || w.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := watchlistKey{ownerID: w.OwnerID, address: w.Address}
	if _, exists := s.wallets[key]; exists {
		return storage.ErrDuplicateKey
	}

	walletCopy := *w
	s.wallets[key] = &walletCopy
	return nil
}

// Remove deletes a tracked wallet. Returns ErrNotFound if not exists.
func (s *WatchlistStore) Remove(_ context.Context, ownerID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watchlistKey{ownerID: ownerID, address: address}
	if _, exists := s.wallets[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.wallets, key)
	return nil
}

// ListByOwner retrieves an owner's wallets ordered by created_at ASC.
func (s *WatchlistStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.TrackedWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrackedWallet
	for key, w := range s.wallets {
		if key.ownerID != ownerID {
			continue
		}
		walletCopy := *w
		result = append(result, &walletCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Address < result[j].Address
	})
	return result, nil
}

// DistinctAddresses returns every tracked address once, sorted.
func (s *WatchlistStore) DistinctAddresses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	addresses := make([]string, 0, len(s.wallets))
	for key := range s.wallets {
		if seen[key.address] {
			continue
		}
		seen[key.address] = true
		addresses = append(addresses, key.address)
	}
	sort.Strings(addresses)
	return addresses, nil
}

var _ storage.WatchlistStore = (*WatchlistStore)(nil)
