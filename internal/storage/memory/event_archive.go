package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

// EventArchive is an in-memory implementation of storage.EventArchive.
// Rows with the same event_key are collapsed, keeping the latest.
type EventArchive struct {
	mu   sync.RWMutex
	rows map[string]*domain.AppliedSwap // keyed by event_key
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{
		rows: make(map[string]*domain.AppliedSwap),
	}
}

// InsertBulk appends rows.
func (s *EventArchive) InsertBulk(_ context.Context, rows []*domain.AppliedSwap) error {
	for _, r := range rows {
		if r == nil || r.EventKey == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		rowCopy := *r
		s.rows[r.EventKey] = &rowCopy
	}
	return nil
}

// GetByWallet retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
func (s *EventArchive) GetByWallet(_ context.Context, walletAddress string, start, end int64) ([]*domain.AppliedSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AppliedSwap
	for _, r := range s.rows {
		if r.WalletAddress != walletAddress || r.Timestamp < start || r.Timestamp > end {
			continue
		}
		rowCopy := *r
		result = append(result, &rowCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		if result[i].TxSignature != result[j].TxSignature {
			return result[i].TxSignature < result[j].TxSignature
		}
		return result[i].EventIndex < result[j].EventIndex
	})
	return result, nil
}

var _ storage.EventArchive = (*EventArchive)(nil)
