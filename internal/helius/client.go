// Package helius enriches transaction signatures through the Helius
// Enhanced Transactions API.
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/retrier"
)

const (
	// DefaultBaseURL is the public Helius API.
	DefaultBaseURL = "https://api.helius.xyz"
	// maxBatch is the most signatures Helius accepts per request.
	maxBatch = 100

	provider = "helius"
)

// StatusError is a non-200 response from Helius.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helius returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client communicates with the Helius Enhanced Transactions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retrier    *retrier.Retrier
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetrier overrides the retry policy for 429 and 5xx responses.
func WithRetrier(r *retrier.Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("helius")
		}
	}
}

// NewClient creates a new Helius API client.
func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	c.retrier = retrier.New(
		retrier.WithMaxInterval(60*time.Second),
		retrier.WithRetryIf(retryable),
	)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable accepts transport failures and 429/5xx responses.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// GetTransactions enriches signatures, preserving no particular order.
// Signatures Helius cannot parse are simply absent from the result.
func (c *Client) GetTransactions(ctx context.Context, signatures []string) ([]EnhancedTransaction, error) {
	var all []EnhancedTransaction
	for start := 0; start < len(signatures); start += maxBatch {
		end := start + maxBatch
		if end > len(signatures) {
			end = len(signatures)
		}

		txs, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]EnhancedTransaction, error) {
			return c.fetchBatch(ctx, signatures[start:end])
		})
		if err != nil {
			return nil, faults.Transient(provider, "transactions", err)
		}
		all = append(all, txs...)
	}
	return all, nil
}

func (c *Client) fetchBatch(ctx context.Context, signatures []string) (txs []EnhancedTransaction, err error) {
	started := time.Now()
	defer func() {
		observability.RecordProviderCall(provider, "transactions", time.Since(started).Seconds(), err)
	}()

	body, err := json.Marshal(map[string][]string{"transactions": signatures})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	endpoint := c.baseURL + "/v0/transactions?" + url.Values{"api-key": {c.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
		if se.Retryable() {
			c.logger.Debug("retryable helius response", zap.Int("status", resp.StatusCode))
		}
		return nil, se
	}

	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return txs, nil
}
