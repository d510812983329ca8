package helius

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EnhancedTransaction represents a single parsed transaction from the Helius API.
type EnhancedTransaction struct {
	Description      string          `json:"description"`
	Type             string          `json:"type"`
	Source           string          `json:"source"`
	Fee              int64           `json:"fee"`
	FeePayer         string          `json:"feePayer"`
	Signature        string          `json:"signature"`
	Slot             int64           `json:"slot"`
	Timestamp        int64           `json:"timestamp"` // unix seconds
	TransactionError json.RawMessage `json:"transactionError"`
	Events           Events          `json:"events"`
}

// Failed reports whether Helius attached a transaction error.
func (tx *EnhancedTransaction) Failed() bool {
	switch string(tx.TransactionError) {
	case "", "null", "{}", `""`:
		return false
	}
	return true
}

// Events holds the structured event data parsed by Helius.
// Swap is either a single object or an array of objects.
type Events struct {
	Swap json.RawMessage `json:"swap"`
}

// SwapEvents decodes the swap payload in either of its shapes.
func (e Events) SwapEvents() ([]SwapEvent, error) {
	raw := bytes.TrimSpace(e.Swap)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if raw[0] == '[' {
		var swaps []SwapEvent
		if err := json.Unmarshal(raw, &swaps); err != nil {
			return nil, err
		}
		return swaps, nil
	}

	var swap SwapEvent
	if err := json.Unmarshal(raw, &swap); err != nil {
		return nil, err
	}
	return []SwapEvent{swap}, nil
}

// SwapEvent represents a parsed swap event from the transaction.
type SwapEvent struct {
	User         string        `json:"user"`
	Owner        string        `json:"owner"`
	NativeInput  *NativeAmount `json:"nativeInput"`
	NativeOutput *NativeAmount `json:"nativeOutput"`
	TokenInputs  []SwapToken   `json:"tokenInputs"`
	TokenOutputs []SwapToken   `json:"tokenOutputs"`
}

// NativeAmount represents a native SOL amount tied to an account.
// Helius sends lamports either as a string or as a number.
type NativeAmount struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// SwapToken represents a token involved in a swap event.
type SwapToken struct {
	UserAccount    string          `json:"userAccount"`
	TokenAccount   string          `json:"tokenAccount"`
	Mint           string          `json:"mint"`
	TokenAmount    decimal.Decimal `json:"tokenAmount"`
	Amount         decimal.Decimal `json:"amount"`
	RawTokenAmount *RawTokenAmount `json:"rawTokenAmount"`
}

// Quantity returns the UI amount: tokenAmount, else amount, else the raw
// amount scaled by its decimals.
func (t SwapToken) Quantity() decimal.Decimal {
	if !t.TokenAmount.IsZero() {
		return t.TokenAmount
	}
	if !t.Amount.IsZero() {
		return t.Amount
	}
	if t.RawTokenAmount != nil {
		return t.RawTokenAmount.Scaled()
	}
	return decimal.Zero
}

// RawTokenAmount holds a raw token amount with its decimals.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int32  `json:"decimals"`
}

// Scaled returns TokenAmount / 10^Decimals, or zero when unparseable.
func (r RawTokenAmount) Scaled() decimal.Decimal {
	raw, err := decimal.NewFromString(r.TokenAmount)
	if err != nil {
		return decimal.Zero
	}
	return raw.Shift(-r.Decimals)
}
