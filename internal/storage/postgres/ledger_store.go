package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/idhash"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Update runs in one transaction holding a wallet-scoped advisory lock,
// so concurrent updates of the same wallet are serialized.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const aggregateColumns = `
	wallet_address, last_processed_signature, total_trades, wins, losses,
	realized_pnl_usd::text, realized_pnl_sol::text,
	best_play_signature, best_play_pnl_usd::text, best_play_summary, updated_at
`

// Update runs fn as one atomic unit scoped to walletAddress.
func (s *LedgerStore) Update(ctx context.Context, walletAddress string, fn func(tx storage.LedgerTx) error) (err error) {
	if walletAddress == "" || fn == nil {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "ledger_update", time.Since(start).Seconds(), err)
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, idhash.ComputeWalletLockKey(walletAddress)); err != nil {
		return errors.Wrap(err, "lock wallet")
	}

	if err := fn(&ledgerTx{tx: tx, wallet: walletAddress}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// GetAggregate retrieves a wallet's aggregate. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetAggregate(ctx context.Context, walletAddress string) (*domain.Aggregate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+aggregateColumns+` FROM wallet_aggregates WHERE wallet_address = $1`, walletAddress)
	agg, err := scanAggregate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "get aggregate")
	}
	return agg, nil
}

// GetAggregates retrieves aggregates for the given wallets.
func (s *LedgerStore) GetAggregates(ctx context.Context, walletAddresses []string) ([]*domain.Aggregate, error) {
	if len(walletAddresses) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+aggregateColumns+`
		FROM wallet_aggregates
		WHERE wallet_address = ANY($1)
		ORDER BY wallet_address ASC
	`, walletAddresses)
	if err != nil {
		return nil, errors.Wrap(err, "query aggregates")
	}
	defer rows.Close()

	var result []*domain.Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan aggregate")
		}
		result = append(result, agg)
	}
	return result, rows.Err()
}

// GetPositions retrieves a wallet's positions ordered by asset_id ASC.
func (s *LedgerStore) GetPositions(ctx context.Context, walletAddress string) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, asset_id, quantity::text, avg_cost_usd::text, updated_at
		FROM wallet_positions
		WHERE wallet_address = $1
		ORDER BY asset_id ASC
	`, walletAddress)
	if err != nil {
		return nil, errors.Wrap(err, "query positions")
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetRecentEvents retrieves up to limit audit rows, newest first.
func (s *LedgerStore) GetRecentEvents(ctx context.Context, walletAddress string, limit int) ([]*domain.RecentEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, timestamp, tx_signature, event_key, summary
		FROM recent_events
		WHERE wallet_address = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, walletAddress, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent events")
	}
	defer rows.Close()

	var result []*domain.RecentEvent
	for rows.Next() {
		var e domain.RecentEvent
		if err := rows.Scan(&e.WalletAddress, &e.Timestamp, &e.TxSignature, &e.EventKey, &e.Summary); err != nil {
			return nil, errors.Wrap(err, "scan recent event")
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// GetCursor returns the last processed signature, or "" if none was saved.
func (s *LedgerStore) GetCursor(ctx context.Context, walletAddress string) (string, error) {
	var cursor string
	err := s.pool.QueryRow(ctx, `
		SELECT last_processed_signature FROM wallet_aggregates WHERE wallet_address = $1
	`, walletAddress).Scan(&cursor)
	if err != nil {
		if isNotFoundError(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "get cursor")
	}
	return cursor, nil
}

// SetCursor saves the last processed signature. Only the cursor column is written.
func (s *LedgerStore) SetCursor(ctx context.Context, walletAddress, signature string) error {
	if walletAddress == "" || signature == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_aggregates (wallet_address, last_processed_signature, updated_at)
		VALUES ($1, $2, (EXTRACT(EPOCH FROM NOW()) * 1000)::BIGINT)
		ON CONFLICT (wallet_address) DO UPDATE
		SET last_processed_signature = EXCLUDED.last_processed_signature
	`, walletAddress, signature)
	if err != nil {
		return errors.Wrap(err, "set cursor")
	}
	return nil
}

// ledgerTx is one wallet's view inside an open transaction.
type ledgerTx struct {
	tx     pgx.Tx
	wallet string
}

func (t *ledgerTx) GetAggregate(ctx context.Context) (*domain.Aggregate, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+aggregateColumns+` FROM wallet_aggregates WHERE wallet_address = $1`, t.wallet)
	agg, err := scanAggregate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "get aggregate")
	}
	return agg, nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, assetID string) (*domain.Position, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT wallet_address, asset_id, quantity::text, avg_cost_usd::text, updated_at
		FROM wallet_positions
		WHERE wallet_address = $1 AND asset_id = $2
	`, t.wallet, assetID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "get position")
	}
	return p, nil
}

func (t *ledgerTx) IsEventApplied(ctx context.Context, eventKey string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM applied_events WHERE wallet_address = $1 AND event_key = $2)
	`, t.wallet, eventKey).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check applied event")
	}
	return exists, nil
}

// MarkEventApplied uses ON CONFLICT DO NOTHING so a duplicate does not abort the transaction.
func (t *ledgerTx) MarkEventApplied(ctx context.Context, eventKey, txSignature string, appliedAt int64) error {
	if eventKey == "" {
		return storage.ErrInvalidInput
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO applied_events (wallet_address, event_key, tx_signature, applied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_address, event_key) DO NOTHING
	`, t.wallet, eventKey, txSignature, appliedAt)
	if err != nil {
		return errors.Wrap(err, "insert applied event")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

func (t *ledgerTx) UpsertPosition(ctx context.Context, p *domain.Position) error {
	if p == nil || p.AssetID == "" || p.Quantity.IsNegative() || p.AvgCostUSD.IsNegative() {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_positions (wallet_address, asset_id, quantity, avg_cost_usd, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		ON CONFLICT (wallet_address, asset_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    avg_cost_usd = EXCLUDED.avg_cost_usd,
		    updated_at = EXCLUDED.updated_at
	`, t.wallet, p.AssetID, p.Quantity.String(), p.AvgCostUSD.String(), p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "upsert position")
	}
	return nil
}

// UpsertAggregate writes the ledger columns; last_processed_signature is left untouched.
func (t *ledgerTx) UpsertAggregate(ctx context.Context, a *domain.Aggregate) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_aggregates (
			wallet_address, total_trades, wins, losses,
			realized_pnl_usd, realized_pnl_sol,
			best_play_signature, best_play_pnl_usd, best_play_summary, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric, $9, $10)
		ON CONFLICT (wallet_address) DO UPDATE
		SET total_trades = EXCLUDED.total_trades,
		    wins = EXCLUDED.wins,
		    losses = EXCLUDED.losses,
		    realized_pnl_usd = EXCLUDED.realized_pnl_usd,
		    realized_pnl_sol = EXCLUDED.realized_pnl_sol,
		    best_play_signature = EXCLUDED.best_play_signature,
		    best_play_pnl_usd = EXCLUDED.best_play_pnl_usd,
		    best_play_summary = EXCLUDED.best_play_summary,
		    updated_at = EXCLUDED.updated_at
	`,
		t.wallet,
		a.TotalTrades,
		a.Wins,
		a.Losses,
		a.RealizedPnLUSD.String(),
		a.RealizedPnLSOL.String(),
		a.BestPlaySignature,
		a.BestPlayPnLUSD.String(),
		a.BestPlaySummary,
		a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert aggregate")
	}
	return nil
}

func (t *ledgerTx) AppendRecentEvent(ctx context.Context, e *domain.RecentEvent, pruneBefore int64) error {
	if e == nil || e.TxSignature == "" {
		return storage.ErrInvalidInput
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO recent_events (wallet_address, timestamp, tx_signature, event_key, summary)
		VALUES ($1, $2, $3, $4, $5)
	`, t.wallet, e.Timestamp, e.TxSignature, e.EventKey, e.Summary); err != nil {
		return errors.Wrap(err, "insert recent event")
	}

	if _, err := t.tx.Exec(ctx, `
		DELETE FROM recent_events WHERE wallet_address = $1 AND timestamp < $2
	`, t.wallet, pruneBefore); err != nil {
		return errors.Wrap(err, "prune recent events")
	}
	return nil
}

func scanAggregate(row pgx.Row) (*domain.Aggregate, error) {
	var (
		a                          domain.Aggregate
		pnlUSD, pnlSOL, bestPnLUSD string
	)
	if err := row.Scan(
		&a.WalletAddress,
		&a.LastProcessedSignature,
		&a.TotalTrades,
		&a.Wins,
		&a.Losses,
		&pnlUSD,
		&pnlSOL,
		&a.BestPlaySignature,
		&bestPnLUSD,
		&a.BestPlaySummary,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if a.RealizedPnLUSD, err = parseDecimal(pnlUSD); err != nil {
		return nil, err
	}
	if a.RealizedPnLSOL, err = parseDecimal(pnlSOL); err != nil {
		return nil, err
	}
	if a.BestPlayPnLUSD, err = parseDecimal(bestPnLUSD); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p             domain.Position
		qty, avgCost string
	)
	if err := row.Scan(&p.WalletAddress, &p.AssetID, &qty, &avgCost, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Quantity, err = parseDecimal(qty); err != nil {
		return nil, err
	}
	if p.AvgCostUSD, err = parseDecimal(avgCost); err != nil {
		return nil, err
	}
	return &p, nil
}
