// Package ledger applies swap events to per-wallet positions and aggregates.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/idhash"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/pricing"
	"solana-wallet-ledger/internal/storage"
)

// Result describes the outcome of one Apply.
type Result struct {
	EventKey  string
	Duplicate bool // event was already applied; nothing changed
	PnLUSD    decimal.Decimal
	Summary   string
}

// Ledger is the realized-PnL engine.
type Ledger struct {
	store   storage.LedgerStore
	prices  pricing.PriceSource
	model   CostModel
	archive storage.EventArchive
	logger  *zap.Logger
	now     func() time.Time

	locks sync.Map // wallet address -> *sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCostModel replaces the AverageCost model.
func WithCostModel(m CostModel) Option {
	return func(l *Ledger) {
		l.model = m
	}
}

// WithArchive writes every applied event to archive after commit.
func WithArchive(a storage.EventArchive) Option {
	return func(l *Ledger) {
		l.archive = a
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.Named("ledger")
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger.
func New(store storage.LedgerStore, prices pricing.PriceSource, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		prices: prices,
		model:  AverageCost{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply books one swap event. Events of one wallet must be applied oldest first.
// Re-applying an event is a no-op reported as Duplicate.
func (l *Ledger) Apply(ctx context.Context, ev domain.SwapEvent) (Result, error) {
	if ev.WalletAddress == "" || ev.TxSignature == "" {
		return Result{}, errors.Wrap(storage.ErrInvalidInput, "swap event needs wallet and signature")
	}

	res := Result{EventKey: idhash.ComputeEventKey(ev.WalletAddress, ev.TxSignature, ev.EventIndex)}

	mu := l.walletLock(ev.WalletAddress)
	mu.Lock()
	defer mu.Unlock()

	priceIn := l.price(ctx, ev.AssetIn.AssetID)
	priceOut := l.price(ctx, ev.AssetOut.AssetID)
	priceSOL := l.solPrice(ctx, ev, priceIn, priceOut)

	now := l.now()
	nowMs := now.UnixMilli()
	pruneBefore := now.Add(-domain.RecentEventRetention).UnixMilli()

	err := l.store.Update(ctx, ev.WalletAddress, func(tx storage.LedgerTx) error {
		applied, err := tx.IsEventApplied(ctx, res.EventKey)
		if err != nil {
			return errors.Wrap(err, "check applied")
		}
		if applied {
			res.Duplicate = true
			return nil
		}
		if err := tx.MarkEventApplied(ctx, res.EventKey, ev.TxSignature, nowMs); err != nil {
			return errors.Wrap(err, "mark applied")
		}

		pnl, err := l.settle(ctx, tx, ev, priceIn, priceOut, nowMs)
		if err != nil {
			return err
		}

		agg, err := tx.GetAggregate(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			agg = domain.NewAggregate(ev.WalletAddress)
		} else if err != nil {
			return errors.Wrap(err, "load aggregate")
		}

		res.PnLUSD = pnl
		res.Summary = Summary(ev, pnl)
		book(agg, ev.TxSignature, pnl, priceSOL, res.Summary)
		agg.UpdatedAt = nowMs

		if err := tx.AppendRecentEvent(ctx, &domain.RecentEvent{
			WalletAddress: ev.WalletAddress,
			Timestamp:     ev.Timestamp,
			TxSignature:   ev.TxSignature,
			EventKey:      res.EventKey,
			Summary:       res.Summary,
		}, pruneBefore); err != nil {
			return errors.Wrap(err, "append recent event")
		}
		if err := tx.UpsertAggregate(ctx, agg); err != nil {
			return errors.Wrap(err, "upsert aggregate")
		}
		return nil
	})
	if err != nil {
		return Result{}, faults.Persistence("apply event", err)
	}

	if res.Duplicate {
		observability.RecordEventDuplicate()
		l.logger.Debug("event already applied",
			zap.String("wallet", ev.WalletAddress),
			zap.String("signature", ev.TxSignature),
			zap.Int("event_index", ev.EventIndex))
		return res, nil
	}

	observability.RecordEventApplied(res.PnLUSD.InexactFloat64())
	l.logger.Debug("event applied",
		zap.String("wallet", ev.WalletAddress),
		zap.String("signature", ev.TxSignature),
		zap.String("pnl_usd", res.PnLUSD.String()))

	l.archiveEvent(ctx, ev, res, priceIn, priceOut, nowMs)
	return res, nil
}

// settle runs the cost model on the received side, then on the spent side.
// The spent side reads the position after the received side was written so a
// swap between the same asset sees its own update.
func (l *Ledger) settle(ctx context.Context, tx storage.LedgerTx, ev domain.SwapEvent, priceIn, priceOut decimal.Decimal, nowMs int64) (decimal.Decimal, error) {
	pnl := decimal.Zero

	if ev.AssetOut.AssetID != "" {
		prior, err := position(ctx, tx, ev.AssetOut.AssetID)
		if err != nil {
			return pnl, err
		}
		costUSD := ev.AssetIn.Quantity.Mul(priceIn)
		next, realized := l.model.Receive(prior, ev.AssetOut.Quantity, priceOut, costUSD)
		if err := l.write(ctx, tx, ev, ev.AssetOut.AssetID, next, nowMs); err != nil {
			return pnl, err
		}
		pnl = pnl.Add(realized)
	}

	if ev.AssetIn.AssetID != "" && ev.AssetIn.Quantity.IsPositive() {
		prior, err := position(ctx, tx, ev.AssetIn.AssetID)
		if err != nil {
			return pnl, err
		}
		next, realized := l.model.Spend(prior, ev.AssetIn.Quantity, priceIn)
		if err := l.write(ctx, tx, ev, ev.AssetIn.AssetID, next, nowMs); err != nil {
			return pnl, err
		}
		pnl = pnl.Add(realized)
	}

	return pnl, nil
}

func (l *Ledger) write(ctx context.Context, tx storage.LedgerTx, ev domain.SwapEvent, assetID string, next *domain.Position, nowMs int64) error {
	if next == nil {
		return nil
	}
	next.WalletAddress = ev.WalletAddress
	next.AssetID = assetID
	next.UpdatedAt = nowMs
	if err := tx.UpsertPosition(ctx, next); err != nil {
		return errors.Wrapf(err, "upsert position %s", assetID)
	}
	return nil
}

// position loads a position, mapping ErrNotFound to nil.
func position(ctx context.Context, tx storage.LedgerTx, assetID string) (*domain.Position, error) {
	p, err := tx.GetPosition(ctx, assetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load position %s", assetID)
	}
	return p, nil
}

// book folds one event's PnL into the aggregate.
// The first event always becomes the best play so BestPlayPnLUSD tracks the
// maximum even when every event loses money; later events need a strictly
// higher PnL.
func book(agg *domain.Aggregate, signature string, pnl, priceSOL decimal.Decimal, summary string) {
	agg.TotalTrades++
	switch pnl.Sign() {
	case 1:
		agg.Wins++
	case -1:
		agg.Losses++
	}
	agg.RealizedPnLUSD = agg.RealizedPnLUSD.Add(pnl)
	if priceSOL.IsPositive() {
		agg.RealizedPnLSOL = agg.RealizedPnLSOL.Add(pnl.Div(priceSOL))
	}
	if !agg.HasBestPlay() || pnl.GreaterThan(agg.BestPlayPnLUSD) {
		agg.BestPlaySignature = signature
		agg.BestPlayPnLUSD = pnl
		agg.BestPlaySummary = summary
	}
}

func (l *Ledger) price(ctx context.Context, assetID string) decimal.Decimal {
	if assetID == "" || l.prices == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(l.prices.Price(ctx, assetID))
}

// solPrice reuses a leg's price when one side is SOL.
func (l *Ledger) solPrice(ctx context.Context, ev domain.SwapEvent, priceIn, priceOut decimal.Decimal) decimal.Decimal {
	switch domain.WrappedSOLMint {
	case ev.AssetIn.AssetID:
		return priceIn
	case ev.AssetOut.AssetID:
		return priceOut
	}
	return l.price(ctx, domain.WrappedSOLMint)
}

func (l *Ledger) archiveEvent(ctx context.Context, ev domain.SwapEvent, res Result, priceIn, priceOut decimal.Decimal, nowMs int64) {
	if l.archive == nil {
		return
	}
	row := &domain.AppliedSwap{
		EventKey:      res.EventKey,
		WalletAddress: ev.WalletAddress,
		TxSignature:   ev.TxSignature,
		EventIndex:    ev.EventIndex,
		Slot:          ev.Slot,
		Timestamp:     ev.Timestamp,
		AssetIn:       ev.AssetIn.AssetID,
		QuantityIn:    ev.AssetIn.Quantity,
		PriceInUSD:    priceIn,
		AssetOut:      ev.AssetOut.AssetID,
		QuantityOut:   ev.AssetOut.Quantity,
		PriceOutUSD:   priceOut,
		PnLUSD:        res.PnLUSD,
		AppliedAt:     nowMs,
	}
	if err := l.archive.InsertBulk(ctx, []*domain.AppliedSwap{row}); err != nil {
		observability.RecordArchiveFailure()
		l.logger.Warn("archive applied event",
			zap.String("wallet", ev.WalletAddress),
			zap.String("signature", ev.TxSignature),
			zap.Error(err))
	}
}

func (l *Ledger) walletLock(wallet string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(wallet, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
