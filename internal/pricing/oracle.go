// Package pricing resolves spot USD prices for Solana assets.
package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/retrier"
)

const (
	// DefaultBaseURL is the public DexScreener API.
	DefaultBaseURL = "https://api.dexscreener.com"
	// DefaultTimeout bounds one Price call including retries.
	DefaultTimeout = 15 * time.Second
	// DefaultCacheTTL is how long a positive price is reused.
	DefaultCacheTTL = 30 * time.Second

	provider = "dexscreener"
)

// PriceSource returns a spot USD price, or 0 when none is known.
type PriceSource interface {
	Price(ctx context.Context, assetID string) float64
}

// errRetryable marks responses worth another attempt.
var errRetryable = errors.New("retryable response")

// ErrTokenNotFound is returned by TokenInfo when no pair lists the token.
var ErrTokenNotFound = errors.New("token not found")

// Oracle looks up prices on DexScreener, choosing the most liquid pair.
type Oracle struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
	timeout    time.Duration
	retrier    *retrier.Retrier
	logger     *zap.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Oracle) {
		o.httpClient = hc
	}
}

// WithCache sets the price cache. Nil disables caching.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(o *Oracle) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithTimeout sets the per-call ceiling.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		o.timeout = d
	}
}

// WithRetrier overrides the retry policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(o *Oracle) {
		o.retrier = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger.Named("oracle")
		}
	}
}

// NewOracle creates a DexScreener-backed oracle.
func NewOracle(baseURL string, opts ...Option) *Oracle {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	o := &Oracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		cacheTTL:   DefaultCacheTTL,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		retrier: retrier.New(
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxInterval(4*time.Second),
			retrier.WithMaxRetries(2),
			retrier.WithRetryIf(func(err error) bool { return errors.Is(err, errRetryable) }),
		),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Price returns the USD price of assetID, or 0 when it cannot be determined.
func (o *Oracle) Price(ctx context.Context, assetID string) float64 {
	if assetID == "" {
		return 0
	}

	if o.cache != nil {
		if price, ok := o.cache.Get(ctx, assetID); ok {
			observability.RecordPriceLookup("cache_hit")
			return price
		}
	}

	pairs, err := o.lookup(ctx, assetID)
	if err != nil {
		o.logger.Debug("price lookup failed", zap.String("asset", assetID), zap.Error(err))
		observability.RecordPriceLookup("zero")
		return 0
	}
	var price float64
	if best, ok := mostLiquid(pairs); ok {
		price = best.price().InexactFloat64()
	}
	if price <= 0 {
		observability.RecordPriceLookup("zero")
		return 0
	}

	observability.RecordPriceLookup("fetched")
	if o.cache != nil {
		o.cache.Set(ctx, assetID, price, o.cacheTTL)
	}
	return price
}

// TokenInfo returns the market snapshot of mint's most liquid pair.
// It returns ErrTokenNotFound when DexScreener lists no pair and a transient
// fault when the lookup fails.
func (o *Oracle) TokenInfo(ctx context.Context, mint string) (*domain.TokenInfo, error) {
	if mint == "" {
		return nil, ErrTokenNotFound
	}

	pairs, err := o.lookup(ctx, mint)
	if err != nil {
		return nil, faults.Transient(provider, "tokens", err)
	}
	best, ok := mostLiquid(pairs)
	if !ok {
		return nil, errors.Wrap(ErrTokenNotFound, mint)
	}
	return best.tokenInfo(mint), nil
}

type tokensResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID     string          `json:"chainId"`
	PairAddress string          `json:"pairAddress"`
	BaseToken   baseToken       `json:"baseToken"`
	PriceUSD    string          `json:"priceUsd"`
	FDV         decimal.Decimal `json:"fdv"`
	MarketCap   decimal.Decimal `json:"marketCap"`
	Liquidity   *liquidity      `json:"liquidity"`
	Volume      volume          `json:"volume"`
	Txns        txns            `json:"txns"`
	Info        *pairInfo       `json:"info"`
}

type baseToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type liquidity struct {
	USD float64 `json:"usd"`
}

type volume struct {
	H1  decimal.Decimal `json:"h1"`
	H6  decimal.Decimal `json:"h6"`
	H24 decimal.Decimal `json:"h24"`
}

type txns struct {
	H1 txnCount `json:"h1"`
}

type txnCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type pairInfo struct {
	ImageURL string `json:"imageUrl"`
}

func (p pair) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

// price parses priceUsd. Unparseable prices are zero.
func (p pair) price() decimal.Decimal {
	d, err := decimal.NewFromString(p.PriceUSD)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (p pair) tokenInfo(mint string) *domain.TokenInfo {
	info := &domain.TokenInfo{
		Mint:         mint,
		Name:         p.BaseToken.Name,
		Symbol:       p.BaseToken.Symbol,
		ChainID:      p.ChainID,
		PairAddress:  p.PairAddress,
		PriceUSD:     p.price(),
		FDV:          p.FDV,
		MarketCap:    p.MarketCap,
		LiquidityUSD: decimal.NewFromFloat(p.liquidityUSD()),
		VolumeH1:     p.Volume.H1,
		VolumeH6:     p.Volume.H6,
		VolumeH24:    p.Volume.H24,
		BuysH1:       p.Txns.H1.Buys,
		SellsH1:      p.Txns.H1.Sells,
	}
	if p.Info != nil {
		info.ImageURL = p.Info.ImageURL
	}
	return info
}

// lookup fetches every pair of assetID, retrying transient failures within
// the per-call timeout.
func (o *Oracle) lookup(ctx context.Context, assetID string) ([]pair, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return retrier.DoWithData(o.retrier, callCtx, func(ctx context.Context) ([]pair, error) {
		return o.fetchPairs(ctx, assetID)
	})
}

// fetchPairs performs one DexScreener tokens request.
func (o *Oracle) fetchPairs(ctx context.Context, assetID string) (pairs []pair, err error) {
	started := time.Now()
	defer func() {
		observability.RecordProviderCall(provider, "tokens", time.Since(started).Seconds(), err)
	}()

	endpoint := o.baseURL + "/latest/dex/tokens/" + url.PathEscape(assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(errRetryable, "execute request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Wrapf(errRetryable, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("dexscreener returned status %d", resp.StatusCode)
	}

	var body tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return body.Pairs, nil
}

// mostLiquid returns the pair with the highest liquidity.usd. Ties keep the first.
func mostLiquid(pairs []pair) (pair, bool) {
	if len(pairs) == 0 {
		return pair{}, false
	}
	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.liquidityUSD() > best.liquidityUSD() {
			best = p
		}
	}
	return best, true
}

var _ PriceSource = (*Oracle)(nil)
