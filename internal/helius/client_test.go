package helius

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/retrier"
)

func fastRetrier() *retrier.Retrier {
	return retrier.New(
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithMaxInterval(5*time.Millisecond),
		retrier.WithMaxRetries(3),
		retrier.WithRetryIf(retryable),
	)
}

func TestGetTransactions_PostsSignatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/transactions", r.URL.Path)
		assert.Equal(t, "key123", r.URL.Query().Get("api-key"))

		var body struct {
			Transactions []string `json:"transactions"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"sig1", "sig2"}, body.Transactions)

		w.Write([]byte(`[
			{"signature":"sig1","slot":10,"timestamp":1700000000,"feePayer":"W",
			 "events":{"swap":{"nativeInput":{"account":"W","amount":"1500000000"},
			   "tokenOutputs":[{"userAccount":"W","mint":"M","rawTokenAmount":{"tokenAmount":"2500000","decimals":6}}]}}},
			{"signature":"sig2","slot":11,"timestamp":1700000001,"transactionError":{"InstructionError":[0,"Custom"]},"events":{}}
		]`))
	}))
	defer server.Close()

	client := NewClient("key123", server.URL, WithRetrier(fastRetrier()))
	txs, err := client.GetTransactions(t.Context(), []string{"sig1", "sig2"})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "sig1", txs[0].Signature)
	assert.False(t, txs[0].Failed())
	assert.True(t, txs[1].Failed())

	swaps, err := txs[0].Events.SwapEvents()
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, "1500000000", swaps[0].NativeInput.Amount.String())
	assert.Equal(t, "2.5", swaps[0].TokenOutputs[0].Quantity().String())
}

func TestGetTransactions_Empty(t *testing.T) {
	client := NewClient("k", "http://127.0.0.1:1")
	txs, err := client.GetTransactions(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGetTransactions_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"signature":"sig1"}]`))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, WithRetrier(fastRetrier()))
	txs, err := client.GetTransactions(t.Context(), []string{"sig1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetTransactions_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient("bad", server.URL, WithRetrier(fastRetrier()))
	_, err := client.GetTransactions(t.Context(), []string{"sig1"})
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestGetTransactions_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient("k", server.URL, WithRetrier(fastRetrier()))
	_, err := client.GetTransactions(t.Context(), []string{"sig1"})
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestGetTransactions_ChunksLargeRequests(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Transactions []string `json:"transactions"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Transactions))
		mu.Unlock()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sigs := make([]string, 150)
	for i := range sigs {
		sigs[i] = "sig"
	}

	client := NewClient("k", server.URL, WithRetrier(fastRetrier()))
	_, err := client.GetTransactions(t.Context(), sigs)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{100, 50}, sizes)
}
