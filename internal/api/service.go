// Package api exposes the ledger to front-ends, as a Go service and over HTTP.
package api

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/solana"
	"solana-wallet-ledger/internal/storage"
)

const (
	DefaultEventLimit    = 10
	MaxEventLimit        = 100
	DefaultBestPlayLimit = 3
)

// ErrNotTracked is returned when refreshing a wallet no poller runs for.
var ErrNotTracked = errors.New("wallet not tracked")

// ErrNotConfigured is returned by operations whose backend was not wired.
var ErrNotConfigured = errors.New("not configured")

// LedgerReader is the read side of the ledger store.
type LedgerReader interface {
	GetAggregate(ctx context.Context, walletAddress string) (*domain.Aggregate, error)
	GetAggregates(ctx context.Context, walletAddresses []string) ([]*domain.Aggregate, error)
	GetPositions(ctx context.Context, walletAddress string) ([]*domain.Position, error)
	GetRecentEvents(ctx context.Context, walletAddress string, limit int) ([]*domain.RecentEvent, error)
}

// Refresher wakes the poller of a wallet.
type Refresher interface {
	Refresh(address string) bool
}

// BalanceSource reads native balances in lamports.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// TokenSource looks up token market data.
type TokenSource interface {
	TokenInfo(ctx context.Context, mint string) (*domain.TokenInfo, error)
}

// SwapHistory reads archived swaps.
type SwapHistory interface {
	GetByWallet(ctx context.Context, walletAddress string, start, end int64) ([]*domain.AppliedSwap, error)
}

// Service implements the front-end operations.
type Service struct {
	watchlist storage.WatchlistStore
	ledger    LedgerReader
	refresher Refresher
	balances  BalanceSource
	tokens    TokenSource
	history   SwapHistory
	logger    *zap.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTokenSource enables TokenInfo.
func WithTokenSource(src TokenSource) ServiceOption {
	return func(s *Service) { s.tokens = src }
}

// WithSwapHistory enables SwapHistory.
func WithSwapHistory(h SwapHistory) ServiceOption {
	return func(s *Service) { s.history = h }
}

// NewService creates a Service. refresher and balances may be nil, in which
// case the corresponding operations fail with ErrNotTracked and ErrNotConfigured.
func NewService(watchlist storage.WatchlistStore, ledger LedgerReader, refresher Refresher, balances BalanceSource, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		watchlist: watchlist,
		ledger:    ledger,
		refresher: refresher,
		balances:  balances,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAggregate returns the wallet's PnL summary. A wallet with no activity
// yet gets a zero aggregate.
func (s *Service) GetAggregate(ctx context.Context, address string) (*domain.Aggregate, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}
	agg, err := s.ledger.GetAggregate(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewAggregate(address), nil
	}
	if err != nil {
		return nil, faults.Persistence("get aggregate", err)
	}
	return agg, nil
}

// GetPositions returns the wallet's positions ordered by asset. Closed
// positions are included with zero quantity.
func (s *Service) GetPositions(ctx context.Context, address string) ([]*domain.Position, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}
	positions, err := s.ledger.GetPositions(ctx, address)
	if err != nil {
		return nil, faults.Persistence("get positions", err)
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	return positions, nil
}

// SwapHistory returns the wallet's archived swaps with timestamps in
// [from, to] (Unix milliseconds), oldest first. A zero to means now.
func (s *Service) SwapHistory(ctx context.Context, address string, from, to int64) ([]*domain.AppliedSwap, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, errors.Wrap(ErrNotConfigured, "swap archive")
	}
	if to == 0 {
		to = s.now().UnixMilli()
	}
	if from < 0 || to < from {
		return nil, errors.Wrapf(storage.ErrInvalidInput, "range [%d, %d]", from, to)
	}
	swaps, err := s.history.GetByWallet(ctx, address, from, to)
	if err != nil {
		return nil, faults.Persistence("get swap history", err)
	}
	if swaps == nil {
		swaps = []*domain.AppliedSwap{}
	}
	return swaps, nil
}

// TokenInfo returns market data for a token mint.
func (s *Service) TokenInfo(ctx context.Context, mint string) (*domain.TokenInfo, error) {
	if err := solana.ValidateAddress(mint); err != nil {
		return nil, err
	}
	if s.tokens == nil {
		return nil, errors.Wrap(ErrNotConfigured, "token source")
	}
	return s.tokens.TokenInfo(ctx, mint)
}

// GetRecentEvents returns up to limit audit rows, newest first. A
// non-positive limit means DefaultEventLimit; limits above MaxEventLimit are capped.
func (s *Service) GetRecentEvents(ctx context.Context, address string, limit int) ([]*domain.RecentEvent, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	events, err := s.ledger.GetRecentEvents(ctx, address, limit)
	if err != nil {
		return nil, faults.Persistence("get recent events", err)
	}
	if events == nil {
		events = []*domain.RecentEvent{}
	}
	return events, nil
}

// TriggerManualRefresh wakes the wallet's poller for an immediate cycle.
func (s *Service) TriggerManualRefresh(_ context.Context, address string) error {
	if err := solana.ValidateAddress(address); err != nil {
		return err
	}
	if s.refresher == nil || !s.refresher.Refresh(address) {
		return errors.Wrap(ErrNotTracked, address)
	}
	s.logger.Info("manual refresh", zap.String("wallet", address))
	return nil
}

// ListWallets returns an owner's watchlist, oldest first.
func (s *Service) ListWallets(ctx context.Context, owner string) ([]*domain.TrackedWallet, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, storage.ErrInvalidInput
	}
	wallets, err := s.watchlist.ListByOwner(ctx, owner)
	if err != nil {
		return nil, faults.Persistence("list wallets", err)
	}
	if wallets == nil {
		wallets = []*domain.TrackedWallet{}
	}
	return wallets, nil
}

// AddWallet puts a wallet on an owner's watchlist. The supervisor starts
// tracking it on its next reconcile.
func (s *Service) AddWallet(ctx context.Context, owner, address, label string) (*domain.TrackedWallet, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, storage.ErrInvalidInput
	}
	if err := solana.ValidateWalletAddress(address); err != nil {
		return nil, err
	}
	w := &domain.TrackedWallet{
		OwnerID:   owner,
		Address:   address,
		Label:     strings.TrimSpace(label),
		CreatedAt: s.now().UnixMilli(),
	}
	if err := s.watchlist.Add(ctx, w); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		return nil, faults.Persistence("add wallet", err)
	}
	s.logger.Info("wallet added", zap.String("owner", owner), zap.String("wallet", address))
	return w, nil
}

// RemoveWallet takes a wallet off an owner's watchlist. The wallet's ledger
// is kept; tracking stops once no owner watches it.
func (s *Service) RemoveWallet(ctx context.Context, owner, address string) error {
	if strings.TrimSpace(owner) == "" || address == "" {
		return storage.ErrInvalidInput
	}
	if err := s.watchlist.Remove(ctx, owner, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return faults.Persistence("remove wallet", err)
	}
	s.logger.Info("wallet removed", zap.String("owner", owner), zap.String("wallet", address))
	return nil
}

// BestPlays ranks the best plays across an owner's wallets by PnL, highest
// first. A non-positive limit means DefaultBestPlayLimit.
func (s *Service) BestPlays(ctx context.Context, owner string, limit int) ([]domain.BestPlay, error) {
	if limit <= 0 {
		limit = DefaultBestPlayLimit
	}
	wallets, err := s.ListWallets(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return []domain.BestPlay{}, nil
	}

	labels := make(map[string]string, len(wallets))
	addresses := make([]string, 0, len(wallets))
	for _, w := range wallets {
		labels[w.Address] = w.DisplayName()
		addresses = append(addresses, w.Address)
	}

	aggs, err := s.ledger.GetAggregates(ctx, addresses)
	if err != nil {
		return nil, faults.Persistence("get aggregates", err)
	}

	plays := make([]domain.BestPlay, 0, len(aggs))
	for _, a := range aggs {
		if !a.HasBestPlay() {
			continue
		}
		plays = append(plays, domain.BestPlay{
			WalletAddress: a.WalletAddress,
			Label:         labels[a.WalletAddress],
			Signature:     a.BestPlaySignature,
			PnLUSD:        a.BestPlayPnLUSD,
			Summary:       a.BestPlaySummary,
		})
	}
	sort.SliceStable(plays, func(i, j int) bool {
		if !plays[i].PnLUSD.Equal(plays[j].PnLUSD) {
			return plays[i].PnLUSD.GreaterThan(plays[j].PnLUSD)
		}
		return plays[i].WalletAddress < plays[j].WalletAddress
	})
	if len(plays) > limit {
		plays = plays[:limit]
	}
	return plays, nil
}

// Balance returns the wallet's native balance in SOL.
func (s *Service) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	if s.balances == nil {
		return decimal.Zero, errors.Wrap(ErrNotConfigured, "balance source")
	}
	started := time.Now()
	lamports, err := s.balances.GetBalance(ctx, address)
	observability.RecordProviderCall("rpc", "getBalance", time.Since(started).Seconds(), err)
	if err != nil {
		return decimal.Zero, faults.Transient("rpc", "getBalance", err)
	}
	return decimal.NewFromUint64(lamports).Div(decimal.NewFromInt(domain.LamportsPerSOL)), nil
}
