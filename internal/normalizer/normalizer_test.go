package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/helius"
)

const wallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func parseTx(t *testing.T, raw string) *helius.EnhancedTransaction {
	t.Helper()
	var tx helius.EnhancedTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	return &tx
}

func TestNormalize_NativeInTokenOut(t *testing.T) {
	tx := parseTx(t, `{
		"signature":"sig1","slot":42,"timestamp":1700000000,
		"events":{"swap":{
			"nativeInput":{"account":"`+wallet+`","amount":"2500000000"},
			"tokenOutputs":[
				{"userAccount":"`+wallet+`","mint":"MintX","rawTokenAmount":{"tokenAmount":"100000000","decimals":6}},
				{"userAccount":"`+wallet+`","mint":"MintZ","tokenAmount":5}
			]
		}}
	}`)

	events := New(nil).Normalize(tx, wallet)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, wallet, ev.WalletAddress)
	assert.Equal(t, "sig1", ev.TxSignature)
	assert.Equal(t, 0, ev.EventIndex)
	assert.Equal(t, int64(42), ev.Slot)
	assert.Equal(t, int64(1700000000000), ev.Timestamp)
	assert.Equal(t, domain.WrappedSOLMint, ev.AssetIn.AssetID)
	assert.Equal(t, "2.5", ev.AssetIn.Quantity.String())
	assert.Equal(t, "MintX", ev.AssetOut.AssetID)
	assert.Equal(t, "100", ev.AssetOut.Quantity.String())
}

func TestNormalize_TokenInNativeOut(t *testing.T) {
	tx := parseTx(t, `{
		"signature":"sig2","timestamp":1700000000,
		"events":{"swap":{
			"tokenInputs":[{"userAccount":"`+wallet+`","mint":"MintX","amount":"40"}],
			"nativeOutput":{"account":"`+wallet+`","amount":1000000000}
		}}
	}`)

	events := New(nil).Normalize(tx, wallet)
	require.Len(t, events, 1)
	assert.Equal(t, "MintX", events[0].AssetIn.AssetID)
	assert.Equal(t, "40", events[0].AssetIn.Quantity.String())
	assert.Equal(t, domain.WrappedSOLMint, events[0].AssetOut.AssetID)
	assert.Equal(t, "1", events[0].AssetOut.Quantity.String())
}

func TestNormalize_OwnerResolution(t *testing.T) {
	tests := []struct {
		name  string
		swap  string
		owned bool
	}{
		{"user field", `{"user":"` + wallet + `","tokenInputs":[{"mint":"A","amount":1}],"tokenOutputs":[{"mint":"B","amount":2}]}`, true},
		{"owner field", `{"owner":"` + wallet + `","tokenInputs":[{"mint":"A","amount":1}],"tokenOutputs":[{"mint":"B","amount":2}]}`, true},
		{"user wins over owner", `{"user":"Other","owner":"` + wallet + `","tokenInputs":[{"mint":"A","amount":1}]}`, false},
		{"native input account", `{"nativeInput":{"account":"` + wallet + `","amount":"1"},"tokenOutputs":[{"mint":"B","amount":2}]}`, true},
		{"token input user account", `{"tokenInputs":[{"userAccount":"` + wallet + `","mint":"A","amount":1}],"tokenOutputs":[{"mint":"B","amount":2}]}`, true},
		{"case insensitive", `{"user":"7XKXTG2CW87D97TXJSDPBD5JBKHETQA83TZRUJOSGASU","tokenInputs":[{"mint":"A","amount":1}]}`, true},
		{"other wallet", `{"user":"SomeoneElse","tokenInputs":[{"mint":"A","amount":1}]}`, false},
		{"no owner", `{"tokenOutputs":[{"mint":"B","amount":2}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := parseTx(t, `{"signature":"s","timestamp":1,"events":{"swap":`+tt.swap+`}}`)
			events := New(nil).Normalize(tx, wallet)
			if tt.owned {
				assert.Len(t, events, 1)
			} else {
				assert.Empty(t, events)
			}
		})
	}
}

func TestNormalize_ArrayOfSubEvents(t *testing.T) {
	tx := parseTx(t, `{
		"signature":"sig3","timestamp":1700000000,
		"events":{"swap":[
			{"user":"`+wallet+`","tokenInputs":[{"mint":"A","amount":1}],"tokenOutputs":[{"mint":"B","amount":2}]},
			{"user":"Other","tokenInputs":[{"mint":"C","amount":1}],"tokenOutputs":[{"mint":"D","amount":2}]},
			{"user":"`+wallet+`","tokenInputs":[{"mint":"B","amount":2}],"tokenOutputs":[{"mint":"E","amount":3}]}
		]}
	}`)

	events := New(nil).Normalize(tx, wallet)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].EventIndex)
	assert.Equal(t, "A", events[0].AssetIn.AssetID)
	assert.Equal(t, 2, events[1].EventIndex)
	assert.Equal(t, "E", events[1].AssetOut.AssetID)
}

func TestNormalize_NoEvents(t *testing.T) {
	tests := map[string]string{
		"no swap":        `{"signature":"s","timestamp":1,"events":{}}`,
		"null swap":      `{"signature":"s","timestamp":1,"events":{"swap":null}}`,
		"failed tx":      `{"signature":"s","timestamp":1,"transactionError":{"InstructionError":[0,"x"]},"events":{"swap":{"user":"` + wallet + `","tokenInputs":[{"mint":"A","amount":1}]}}}`,
		"malformed swap": `{"signature":"s","timestamp":1,"events":{"swap":"oops"}}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, New(nil).Normalize(parseTx(t, raw), wallet))
		})
	}
	assert.Empty(t, New(nil).Normalize(nil, wallet))
}

func TestNormalize_OwnedSubEventWithoutLegs(t *testing.T) {
	tx := parseTx(t, `{"signature":"s","slot":9,"timestamp":1,"events":{"swap":[
		{"user":"`+wallet+`"},
		{"user":"someone-else"}
	]}}`)

	events := New(nil).Normalize(tx, wallet)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].EventIndex)
	assert.True(t, events[0].AssetIn.IsZero())
	assert.True(t, events[0].AssetOut.IsZero())
	assert.Equal(t, int64(1000), events[0].Timestamp)
}

func TestNormalize_MissingTimestampUsesNow(t *testing.T) {
	n := New(nil)
	n.now = func() time.Time { return time.UnixMilli(1_234_567) }

	tx := parseTx(t, `{"signature":"s","events":{"swap":{"user":"`+wallet+`","tokenInputs":[{"mint":"A","amount":1}]}}}`)
	events := n.Normalize(tx, wallet)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1_234_567), events[0].Timestamp)
}
