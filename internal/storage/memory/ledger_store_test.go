package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/storage"
)

func TestLedgerStore_UpdateCommits(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		if _, err := tx.GetAggregate(ctx); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound before first write, got %v", err)
		}
		agg := domain.NewAggregate("walletA")
		agg.TotalTrades = 1
		agg.RealizedPnLUSD = decimal.NewFromInt(30)
		if err := tx.UpsertAggregate(ctx, agg); err != nil {
			return err
		}
		return tx.UpsertPosition(ctx, &domain.Position{
			AssetID:    "mintX",
			Quantity:   decimal.NewFromInt(100),
			AvgCostUSD: decimal.RequireFromString("0.5"),
		})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	agg, err := store.GetAggregate(ctx, "walletA")
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.TotalTrades != 1 || !agg.RealizedPnLUSD.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Unexpected aggregate: %+v", agg)
	}

	positions, err := store.GetPositions(ctx, "walletA")
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 || positions[0].WalletAddress != "walletA" {
		t.Fatalf("Unexpected positions: %+v", positions)
	}
}

func TestLedgerStore_UpdateRollsBackOnError(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		_ = tx.UpsertAggregate(ctx, domain.NewAggregate("walletA"))
		_ = tx.MarkEventApplied(ctx, "key1", "sig1", 1000)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := store.GetAggregate(ctx, "walletA"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after rollback, got %v", err)
	}

	err = store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		applied, err := tx.IsEventApplied(ctx, "key1")
		if err != nil {
			return err
		}
		if applied {
			t.Error("Event key should not survive a rolled back update")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestLedgerStore_TxReadsOwnWrites(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		if err := tx.UpsertPosition(ctx, &domain.Position{AssetID: "mintX", Quantity: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		p, err := tx.GetPosition(ctx, "mintX")
		if err != nil {
			return err
		}
		if !p.Quantity.Equal(decimal.NewFromInt(5)) {
			t.Errorf("Expected staged quantity 5, got %s", p.Quantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestLedgerStore_MarkEventAppliedDuplicate(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	_ = store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		return tx.MarkEventApplied(ctx, "key1", "sig1", 1000)
	})

	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		return tx.MarkEventApplied(ctx, "key1", "sig1", 2000)
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestLedgerStore_CursorSurvivesAggregateUpsert(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	if err := store.SetCursor(ctx, "walletA", "sig10"); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}

	// A ledger write carrying a stale cursor must not move it.
	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		agg := domain.NewAggregate("walletA")
		agg.LastProcessedSignature = "stale"
		agg.TotalTrades = 3
		return tx.UpsertAggregate(ctx, agg)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cursor, err := store.GetCursor(ctx, "walletA")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cursor != "sig10" {
		t.Errorf("Cursor mismatch: got %s, want sig10", cursor)
	}

	agg, _ := store.GetAggregate(ctx, "walletA")
	if agg.TotalTrades != 3 {
		t.Errorf("TotalTrades mismatch: got %d, want 3", agg.TotalTrades)
	}
}

func TestLedgerStore_GetCursorMissing(t *testing.T) {
	store := NewLedgerStore()

	cursor, err := store.GetCursor(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cursor != "" {
		t.Errorf("Expected empty cursor, got %s", cursor)
	}
}

func TestLedgerStore_RecentEventsPruneAndOrder(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	appendEvent := func(ts int64, sig string, pruneBefore int64) {
		err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
			return tx.AppendRecentEvent(ctx, &domain.RecentEvent{Timestamp: ts, TxSignature: sig, Summary: sig}, pruneBefore)
		})
		if err != nil {
			t.Fatalf("AppendRecentEvent failed: %v", err)
		}
	}

	appendEvent(1000, "old", 0)
	appendEvent(5000, "mid", 0)
	appendEvent(9000, "new", 2000)

	events, err := store.GetRecentEvents(ctx, "walletA", 10)
	if err != nil {
		t.Fatalf("GetRecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after prune, got %d", len(events))
	}
	if events[0].TxSignature != "new" || events[1].TxSignature != "mid" {
		t.Errorf("Wrong order: %s, %s", events[0].TxSignature, events[1].TxSignature)
	}

	limited, _ := store.GetRecentEvents(ctx, "walletA", 1)
	if len(limited) != 1 || limited[0].TxSignature != "new" {
		t.Errorf("Limit not applied: %+v", limited)
	}

	if _, err := store.GetRecentEvents(ctx, "walletA", 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero limit, got %v", err)
	}
}

func TestLedgerStore_GetAggregates(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	_ = store.SetCursor(ctx, "walletA", "sig1")
	_ = store.SetCursor(ctx, "walletB", "sig2")

	aggs, err := store.GetAggregates(ctx, []string{"walletA", "walletB", "missing"})
	if err != nil {
		t.Fatalf("GetAggregates failed: %v", err)
	}
	if len(aggs) != 2 {
		t.Errorf("Expected 2 aggregates, got %d", len(aggs))
	}
}

func TestLedgerStore_RejectsNegativeQuantity(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	err := store.Update(ctx, "walletA", func(tx storage.LedgerTx) error {
		return tx.UpsertPosition(ctx, &domain.Position{AssetID: "mintX", Quantity: decimal.NewFromInt(-1)})
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
