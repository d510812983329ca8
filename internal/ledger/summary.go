package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"solana-wallet-ledger/internal/domain"
)

// Summary renders the audit line of an applied swap.
func Summary(ev domain.SwapEvent, pnlUSD decimal.Decimal) string {
	return fmt.Sprintf("SWAP: %s %s -> %s %s | pnl $%s",
		formatQty(ev.AssetIn.Quantity), assetLabel(ev.AssetIn.AssetID),
		formatQty(ev.AssetOut.Quantity), assetLabel(ev.AssetOut.AssetID),
		pnlUSD.StringFixed(2))
}

func formatQty(q decimal.Decimal) string {
	return q.Round(6).String()
}

func assetLabel(assetID string) string {
	switch assetID {
	case "":
		return "?"
	case domain.WrappedSOLMint:
		return "SOL"
	}
	return assetID
}
