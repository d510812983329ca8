// Package normalizer turns enriched transactions into canonical swap events
// for one tracked wallet.
package normalizer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/helius"
)

// Normalizer extracts the tracked wallet's swap legs from enriched transactions.
//
// Each swap sub-event contributes its FIRST input and FIRST output leg only.
// Multi-leg sub-events are collapsed to a single pair.
type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		logger: logger.Named("normalizer"),
		now:    time.Now,
	}
}

// Normalize returns the swap events of tx owned by wallet, in sub-event order.
// Failed transactions, transactions without swap data and sub-events of other
// wallets yield nothing. Owned sub-events are kept even when both legs are empty.
func (n *Normalizer) Normalize(tx *helius.EnhancedTransaction, wallet string) []domain.SwapEvent {
	if tx == nil || tx.Failed() {
		return nil
	}

	swaps, err := tx.Events.SwapEvents()
	if err != nil {
		n.logger.Debug("malformed swap payload",
			zap.String("signature", tx.Signature),
			zap.Error(err))
		return nil
	}

	timestamp := tx.Timestamp * 1000
	if tx.Timestamp <= 0 {
		timestamp = n.now().UnixMilli()
	}

	var events []domain.SwapEvent
	for i := range swaps {
		swap := &swaps[i]
		if !strings.EqualFold(swapOwner(swap), wallet) {
			continue
		}

		// An owned sub-event without legs is still a trade; it books zero PnL.
		events = append(events, domain.SwapEvent{
			WalletAddress: wallet,
			TxSignature:   tx.Signature,
			EventIndex:    i,
			Slot:          tx.Slot,
			Timestamp:     timestamp,
			AssetIn:       inputLeg(swap),
			AssetOut:      outputLeg(swap),
		})
	}
	return events
}

// swapOwner resolves who performed a swap sub-event.
func swapOwner(s *helius.SwapEvent) string {
	switch {
	case s.User != "":
		return s.User
	case s.Owner != "":
		return s.Owner
	case s.NativeInput != nil && s.NativeInput.Account != "":
		return s.NativeInput.Account
	case len(s.TokenInputs) > 0:
		return s.TokenInputs[0].UserAccount
	}
	return ""
}

func inputLeg(s *helius.SwapEvent) domain.AssetAmount {
	if len(s.TokenInputs) > 0 {
		return tokenLeg(s.TokenInputs[0])
	}
	return nativeLeg(s.NativeInput)
}

func outputLeg(s *helius.SwapEvent) domain.AssetAmount {
	if len(s.TokenOutputs) > 0 {
		return tokenLeg(s.TokenOutputs[0])
	}
	return nativeLeg(s.NativeOutput)
}

func tokenLeg(t helius.SwapToken) domain.AssetAmount {
	return domain.AssetAmount{AssetID: t.Mint, Quantity: t.Quantity()}
}

// nativeLeg maps a lamport amount to wrapped SOL.
func nativeLeg(na *helius.NativeAmount) domain.AssetAmount {
	if na == nil {
		return domain.AssetAmount{Quantity: decimal.Zero}
	}
	return domain.AssetAmount{
		AssetID:  domain.WrappedSOLMint,
		Quantity: na.Amount.Shift(-9),
	}
}
