package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

// walletLedger holds one wallet's rows.
type walletLedger struct {
	aggregate *domain.Aggregate
	positions map[string]*domain.Position // keyed by asset_id
	events    []*domain.RecentEvent        // append order
	applied   map[string]string            // event_key -> tx_signature
}

func newWalletLedger() *walletLedger {
	return &walletLedger{
		positions: make(map[string]*domain.Position),
		applied:   make(map[string]string),
	}
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// Update stages writes and applies them under the store lock only when fn succeeds.
type LedgerStore struct {
	mu      sync.RWMutex
	wallets map[string]*walletLedger
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		wallets: make(map[string]*walletLedger),
	}
}

// Update runs fn as one atomic unit scoped to walletAddress.
func (s *LedgerStore) Update(ctx context.Context, walletAddress string, fn func(tx storage.LedgerTx) error) error {
	if walletAddress == "" || fn == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		wallet:    walletAddress,
		committed: s.wallets[walletAddress],
		positions: make(map[string]*domain.Position),
		applied:   make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit(s)
	return nil
}

// GetAggregate retrieves a wallet's aggregate. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetAggregate(_ context.Context, walletAddress string) (*domain.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wl, exists := s.wallets[walletAddress]
	if !exists || wl.aggregate == nil {
		return nil, storage.ErrNotFound
	}
	return wl.aggregate.Clone(), nil
}

// GetAggregates retrieves aggregates for the given wallets.
func (s *LedgerStore) GetAggregates(_ context.Context, walletAddresses []string) ([]*domain.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Aggregate
	for _, address := range walletAddresses {
		wl, exists := s.wallets[address]
		if !exists || wl.aggregate == nil {
			continue
		}
		result = append(result, wl.aggregate.Clone())
	}
	return result, nil
}

// GetPositions retrieves a wallet's positions ordered by asset_id ASC.
func (s *LedgerStore) GetPositions(_ context.Context, walletAddress string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wl, exists := s.wallets[walletAddress]
	if !exists {
		return nil, nil
	}

	result := make([]*domain.Position, 0, len(wl.positions))
	for _, p := range wl.positions {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// GetRecentEvents retrieves up to limit audit rows, newest first.
func (s *LedgerStore) GetRecentEvents(_ context.Context, walletAddress string, limit int) ([]*domain.RecentEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wl, exists := s.wallets[walletAddress]
	if !exists {
		return nil, nil
	}

	// Walk in reverse append order so later appends win timestamp ties.
	result := make([]*domain.RecentEvent, 0, len(wl.events))
	for i := len(wl.events) - 1; i >= 0; i-- {
		eventCopy := *wl.events[i]
		result = append(result, &eventCopy)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetCursor returns the last processed signature, or "" if none was saved.
func (s *LedgerStore) GetCursor(_ context.Context, walletAddress string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wl, exists := s.wallets[walletAddress]
	if !exists || wl.aggregate == nil {
		return "", nil
	}
	return wl.aggregate.LastProcessedSignature, nil
}

// SetCursor saves the last processed signature, creating the aggregate row if needed.
func (s *LedgerStore) SetCursor(_ context.Context, walletAddress, signature string) error {
	if walletAddress == "" || signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wl := s.wallet(walletAddress)
	if wl.aggregate == nil {
		wl.aggregate = domain.NewAggregate(walletAddress)
	}
	wl.aggregate.LastProcessedSignature = signature
	return nil
}

// wallet returns the wallet's rows, creating them. Caller holds s.mu.
func (s *LedgerStore) wallet(walletAddress string) *walletLedger {
	wl, exists := s.wallets[walletAddress]
	if !exists {
		wl = newWalletLedger()
		s.wallets[walletAddress] = wl
	}
	return wl
}

// ledgerTx stages writes on top of the committed wallet rows.
type ledgerTx struct {
	wallet    string
	committed *walletLedger // nil when the wallet has no rows yet

	aggregate   *domain.Aggregate
	positions   map[string]*domain.Position
	applied     map[string]string
	events      []*domain.RecentEvent
	pruneBefore int64
	prune       bool
}

func (tx *ledgerTx) GetAggregate(_ context.Context) (*domain.Aggregate, error) {
	if tx.aggregate != nil {
		return tx.aggregate.Clone(), nil
	}
	if tx.committed == nil || tx.committed.aggregate == nil {
		return nil, storage.ErrNotFound
	}
	return tx.committed.aggregate.Clone(), nil
}

func (tx *ledgerTx) GetPosition(_ context.Context, assetID string) (*domain.Position, error) {
	if p, ok := tx.positions[assetID]; ok {
		return p.Clone(), nil
	}
	if tx.committed == nil {
		return nil, storage.ErrNotFound
	}
	p, ok := tx.committed.positions[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (tx *ledgerTx) IsEventApplied(_ context.Context, eventKey string) (bool, error) {
	if _, ok := tx.applied[eventKey]; ok {
		return true, nil
	}
	if tx.committed == nil {
		return false, nil
	}
	_, ok := tx.committed.applied[eventKey]
	return ok, nil
}

func (tx *ledgerTx) MarkEventApplied(ctx context.Context, eventKey, txSignature string, _ int64) error {
	if eventKey == "" {
		return storage.ErrInvalidInput
	}
	applied, err := tx.IsEventApplied(ctx, eventKey)
	if err != nil {
		return err
	}
	if applied {
		return storage.ErrDuplicateKey
	}
	tx.applied[eventKey] = txSignature
	return nil
}

func (tx *ledgerTx) UpsertPosition(_ context.Context, p *domain.Position) error {
	if p == nil || p.AssetID == "" || p.Quantity.IsNegative() || p.AvgCostUSD.IsNegative() {
		return storage.ErrInvalidInput
	}
	staged := p.Clone()
	staged.WalletAddress = tx.wallet
	tx.positions[p.AssetID] = staged
	return nil
}

func (tx *ledgerTx) UpsertAggregate(_ context.Context, a *domain.Aggregate) error {
	if a == nil {
		return storage.ErrInvalidInput
	}
	staged := a.Clone()
	staged.WalletAddress = tx.wallet
	tx.aggregate = staged
	return nil
}

func (tx *ledgerTx) AppendRecentEvent(_ context.Context, e *domain.RecentEvent, pruneBefore int64) error {
	if e == nil || e.TxSignature == "" {
		return storage.ErrInvalidInput
	}
	eventCopy := *e
	eventCopy.WalletAddress = tx.wallet
	tx.events = append(tx.events, &eventCopy)
	if !tx.prune || pruneBefore > tx.pruneBefore {
		tx.pruneBefore = pruneBefore
	}
	tx.prune = true
	return nil
}

// commit applies staged writes. Caller holds s.mu.
func (tx *ledgerTx) commit(s *LedgerStore) {
	wl := s.wallet(tx.wallet)

	if tx.aggregate != nil {
		cursor := ""
		if wl.aggregate != nil {
			cursor = wl.aggregate.LastProcessedSignature
		}
		wl.aggregate = tx.aggregate
		wl.aggregate.LastProcessedSignature = cursor
	}
	for assetID, p := range tx.positions {
		wl.positions[assetID] = p
	}
	for key, sig := range tx.applied {
		wl.applied[key] = sig
	}
	wl.events = append(wl.events, tx.events...)

	if tx.prune {
		kept := wl.events[:0]
		for _, e := range wl.events {
			if e.Timestamp >= tx.pruneBefore {
				kept = append(kept, e)
			}
		}
		wl.events = kept
	}
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
