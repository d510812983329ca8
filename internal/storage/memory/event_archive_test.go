package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"solana-wallet-ledger/internal/domain"
)

func TestEventArchive_InsertAndGetByWallet(t *testing.T) {
	archive := NewEventArchive()
	ctx := context.Background()

	rows := []*domain.AppliedSwap{
		{EventKey: "k2", WalletAddress: "walletA", TxSignature: "sig2", Timestamp: 2000, PnLUSD: decimal.NewFromInt(30)},
		{EventKey: "k1", WalletAddress: "walletA", TxSignature: "sig1", Timestamp: 1000},
		{EventKey: "k3", WalletAddress: "walletB", TxSignature: "sig3", Timestamp: 1500},
	}
	if err := archive.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	// Re-inserting collapses on event key.
	if err := archive.InsertBulk(ctx, rows[:1]); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := archive.GetByWallet(ctx, "walletA", 0, 5000)
	if err != nil {
		t.Fatalf("GetByWallet failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(result))
	}
	if result[0].TxSignature != "sig1" || result[1].TxSignature != "sig2" {
		t.Errorf("Wrong order: %s, %s", result[0].TxSignature, result[1].TxSignature)
	}

	ranged, _ := archive.GetByWallet(ctx, "walletA", 1500, 5000)
	if len(ranged) != 1 {
		t.Errorf("Expected 1 row in range, got %d", len(ranged))
	}
}
