package clickhouse

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/storage"
)

// SwapArchive implements storage.EventArchive using ClickHouse.
// The table is a ReplacingMergeTree, so re-archived events collapse on merge
// and FINAL reads see one row per event.
type SwapArchive struct {
	conn *Conn
}

// NewSwapArchive creates a new SwapArchive.
func NewSwapArchive(conn *Conn) *SwapArchive {
	return &SwapArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*SwapArchive)(nil)

// InsertBulk appends rows in one batch.
func (s *SwapArchive) InsertBulk(ctx context.Context, rows []*domain.AppliedSwap) (err error) {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "archive_insert", time.Since(start).Seconds(), err)
	}()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO applied_swaps (
			event_key, wallet_address, tx_signature, event_index, slot, timestamp,
			asset_in, quantity_in, price_in_usd,
			asset_out, quantity_out, price_out_usd,
			pnl_usd, applied_at
		)
	`)
	if err != nil {
		return errors.Wrap(err, "prepare batch")
	}

	for _, r := range rows {
		if r == nil || r.EventKey == "" {
			_ = batch.Abort()
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			r.EventKey, r.WalletAddress, r.TxSignature, int32(r.EventIndex), r.Slot, r.Timestamp,
			r.AssetIn, r.QuantityIn, r.PriceInUSD,
			r.AssetOut, r.QuantityOut, r.PriceOutUSD,
			r.PnLUSD, r.AppliedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return errors.Wrap(err, "append to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "send batch")
	}
	return nil
}

// GetByWallet retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
func (s *SwapArchive) GetByWallet(ctx context.Context, walletAddress string, start, end int64) ([]*domain.AppliedSwap, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			event_key, wallet_address, tx_signature, event_index, slot, timestamp,
			asset_in, quantity_in, price_in_usd,
			asset_out, quantity_out, price_out_usd,
			pnl_usd, applied_at
		FROM applied_swaps FINAL
		WHERE wallet_address = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, tx_signature ASC, event_index ASC
	`, walletAddress, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "query applied swaps")
	}
	defer rows.Close()

	var result []*domain.AppliedSwap
	for rows.Next() {
		var (
			r          domain.AppliedSwap
			eventIndex int32
		)
		if err := rows.Scan(
			&r.EventKey, &r.WalletAddress, &r.TxSignature, &eventIndex, &r.Slot, &r.Timestamp,
			&r.AssetIn, &r.QuantityIn, &r.PriceInUSD,
			&r.AssetOut, &r.QuantityOut, &r.PriceOutUSD,
			&r.PnLUSD, &r.AppliedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan applied swap")
		}
		r.EventIndex = int(eventIndex)
		result = append(result, &r)
	}
	return result, rows.Err()
}
