package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/poller"
	"solana-wallet-ledger/internal/pricing"
	"solana-wallet-ledger/internal/solana"
	"solana-wallet-ledger/internal/storage"
)

// StatusSource reports the running pollers.
type StatusSource interface {
	Statuses() []poller.Status
}

// SlotSource reports the current slot of the RPC node.
type SlotSource interface {
	GetSlot(ctx context.Context) (int64, error)
}

const healthCheckTimeout = 3 * time.Second

// Server serves the HTTP surface of Service.
type Server struct {
	svc      *Service
	statuses StatusSource
	slots    SlotSource
	auth     *Authenticator
	logger   *zap.Logger
	started  time.Time
	mux      *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStatusSource enables poller details on /status.
func WithStatusSource(src StatusSource) ServerOption {
	return func(s *Server) { s.statuses = src }
}

// WithRPCHealth makes /health report the RPC node's slot and fail when the
// node cannot be reached.
func WithRPCHealth(src SlotSource) ServerOption {
	return func(s *Server) { s.slots = src }
}

// WithAuthenticator requires bearer tokens on owner and refresh routes.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithServerLogger sets the request logger.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server and registers its routes.
func NewServer(svc *Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:     svc,
		logger:  zap.NewNop(),
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", observability.Handler())
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.mux.HandleFunc("GET /wallets/{address}/aggregate", s.handleAggregate)
	s.mux.HandleFunc("GET /wallets/{address}/events", s.handleEvents)
	s.mux.HandleFunc("GET /wallets/{address}/positions", s.handlePositions)
	s.mux.HandleFunc("GET /wallets/{address}/swaps", s.handleSwaps)
	s.mux.HandleFunc("GET /wallets/{address}/balance", s.handleBalance)
	s.mux.HandleFunc("POST /wallets/{address}/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /owners/{owner}/wallets", s.handleListWallets)
	s.mux.HandleFunc("POST /owners/{owner}/wallets", s.handleAddWallet)
	s.mux.HandleFunc("DELETE /owners/{owner}/wallets/{address}", s.handleRemoveWallet)
	s.mux.HandleFunc("GET /owners/{owner}/bestplays", s.handleBestPlays)

	s.mux.HandleFunc("GET /tokens/{mint}", s.handleTokenInfo)
	return s
}

// Handler returns the root handler with request ids and access logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		s.mux.ServeHTTP(rec, r)

		s.logger.Debug("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status string `json:"status"`
	Slot   int64  `json:"slot,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status  string          `json:"status"`
	Uptime  string          `json:"uptime"`
	Wallets int             `json:"wallets"`
	Pollers []poller.Status `json:"pollers"`
}

// AggregateResponse is the JSON form of domain.Aggregate.
type AggregateResponse struct {
	Wallet         string         `json:"wallet"`
	TotalTrades    int64          `json:"total_trades"`
	Wins           int64          `json:"wins"`
	Losses         int64          `json:"losses"`
	RealizedPnLUSD string         `json:"realized_pnl_usd"`
	RealizedPnLSOL string         `json:"realized_pnl_sol"`
	BestPlay       *BestPlayEntry `json:"best_play,omitempty"`
	Cursor         string         `json:"last_processed_signature,omitempty"`
	UpdatedAt      int64          `json:"updated_at"`
}

// BestPlayEntry is one best play.
type BestPlayEntry struct {
	Wallet    string `json:"wallet,omitempty"`
	Label     string `json:"label,omitempty"`
	Signature string `json:"signature"`
	PnLUSD    string `json:"pnl_usd"`
	Summary   string `json:"summary"`
}

// PositionEntry is one open or closed position.
type PositionEntry struct {
	Asset      string `json:"asset"`
	Quantity   string `json:"quantity"`
	AvgCostUSD string `json:"avg_cost_usd"`
	UpdatedAt  int64  `json:"updated_at"`
}

// SwapEntry is one archived swap.
type SwapEntry struct {
	Signature   string `json:"signature"`
	EventIndex  int    `json:"event_index"`
	Slot        int64  `json:"slot"`
	Timestamp   int64  `json:"timestamp"`
	AssetIn     string `json:"asset_in,omitempty"`
	QuantityIn  string `json:"quantity_in"`
	PriceInUSD  string `json:"price_in_usd"`
	AssetOut    string `json:"asset_out,omitempty"`
	QuantityOut string `json:"quantity_out"`
	PriceOutUSD string `json:"price_out_usd"`
	PnLUSD      string `json:"pnl_usd"`
}

// TokenInfoResponse is the JSON response for /tokens/{mint}.
type TokenInfoResponse struct {
	Mint         string `json:"mint"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	ChainID      string `json:"chain_id"`
	PairAddress  string `json:"pair_address"`
	ImageURL     string `json:"image_url,omitempty"`
	PriceUSD     string `json:"price_usd"`
	FDV          string `json:"fdv"`
	MarketCap    string `json:"market_cap"`
	LiquidityUSD string `json:"liquidity_usd"`
	VolumeH1     string `json:"volume_h1"`
	VolumeH6     string `json:"volume_h6"`
	VolumeH24    string `json:"volume_h24"`
	BuysH1       int    `json:"buys_h1"`
	SellsH1      int    `json:"sells_h1"`
}

// EventEntry is one recent event.
type EventEntry struct {
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Summary   string `json:"summary"`
}

// WalletEntry is one watchlist row.
type WalletEntry struct {
	Address   string `json:"address"`
	Label     string `json:"label,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// AddWalletRequest is the body of POST /owners/{owner}/wallets.
type AddWalletRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// BalanceResponse is the JSON response for /wallets/{address}/balance.
type BalanceResponse struct {
	Wallet string `json:"wallet"`
	SOL    string `json:"sol"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.slots == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	slot, err := s.slots.GetSlot(ctx)
	if err != nil {
		s.logger.Warn("rpc health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Slot: slot})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Pollers: []poller.Status{},
	}
	if s.statuses != nil {
		resp.Pollers = s.statuses.Statuses()
	}
	resp.Wallets = len(resp.Pollers)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.GetAggregate(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregateResponse(agg))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.svc.GetRecentEvents(r.Context(), r.PathValue("address"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]EventEntry, 0, len(events))
	for _, e := range events {
		out = append(out, EventEntry{Timestamp: e.Timestamp, Signature: e.TxSignature, Summary: e.Summary})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.svc.GetPositions(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]PositionEntry, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionEntry{
			Asset:      p.AssetID,
			Quantity:   p.Quantity.String(),
			AvgCostUSD: p.AvgCostUSD.String(),
			UpdatedAt:  p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSwaps(w http.ResponseWriter, r *http.Request) {
	from, err := queryMillis(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryMillis(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	swaps, err := s.svc.SwapHistory(r.Context(), r.PathValue("address"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]SwapEntry, 0, len(swaps))
	for _, sw := range swaps {
		out = append(out, SwapEntry{
			Signature:   sw.TxSignature,
			EventIndex:  sw.EventIndex,
			Slot:        sw.Slot,
			Timestamp:   sw.Timestamp,
			AssetIn:     sw.AssetIn,
			QuantityIn:  sw.QuantityIn.String(),
			PriceInUSD:  sw.PriceInUSD.String(),
			AssetOut:    sw.AssetOut,
			QuantityOut: sw.QuantityOut.String(),
			PriceOutUSD: sw.PriceOutUSD.String(),
			PnLUSD:      sw.PnLUSD.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.TokenInfo(r.Context(), r.PathValue("mint"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenInfoResponse{
		Mint:         info.Mint,
		Name:         info.Name,
		Symbol:       info.Symbol,
		ChainID:      info.ChainID,
		PairAddress:  info.PairAddress,
		ImageURL:     info.ImageURL,
		PriceUSD:     info.PriceUSD.String(),
		FDV:          info.FDV.String(),
		MarketCap:    info.MarketCap.String(),
		LiquidityUSD: info.LiquidityUSD.String(),
		VolumeH1:     info.VolumeH1.String(),
		VolumeH6:     info.VolumeH6.String(),
		VolumeH24:    info.VolumeH24.String(),
		BuysH1:       info.BuysH1,
		SellsH1:      info.SellsH1,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	sol, err := s.svc.Balance(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Wallet: address, SOL: sol.String()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.authorize(r, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.TriggerManualRefresh(r.Context(), r.PathValue("address")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if err := s.auth.authorize(r, owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	wallets, err := s.svc.ListWallets(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]WalletEntry, 0, len(wallets))
	for _, tw := range wallets {
		out = append(out, walletEntry(tw))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if err := s.auth.authorize(r, owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AddWalletRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, r, errors.Wrapf(storage.ErrInvalidInput, "decode body: %v", err))
		return
	}
	tw, err := s.svc.AddWallet(r.Context(), owner, req.Address, req.Label)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletEntry(tw))
}

func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if err := s.auth.authorize(r, owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.RemoveWallet(r.Context(), owner, r.PathValue("address")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBestPlays(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if err := s.auth.authorize(r, owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	plays, err := s.svc.BestPlays(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]BestPlayEntry, 0, len(plays))
	for _, p := range plays {
		out = append(out, BestPlayEntry{
			Wallet:    p.WalletAddress,
			Label:     p.Label,
			Signature: p.Signature,
			PnLUSD:    p.PnLUSD.StringFixed(2),
			Summary:   p.Summary,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", faults.Kind(err)),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, solana.ErrInvalidAddress), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrNotTracked), errors.Is(err, pricing.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, ErrNotConfigured):
		return http.StatusNotImplemented
	case faults.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(storage.ErrInvalidInput, "limit %q", raw)
	}
	return n, nil
}

// queryMillis parses an optional Unix-millisecond query parameter.
func queryMillis(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(storage.ErrInvalidInput, "%s %q", key, raw)
	}
	return n, nil
}

func aggregateResponse(a *domain.Aggregate) AggregateResponse {
	resp := AggregateResponse{
		Wallet:         a.WalletAddress,
		TotalTrades:    a.TotalTrades,
		Wins:           a.Wins,
		Losses:         a.Losses,
		RealizedPnLUSD: a.RealizedPnLUSD.StringFixed(2),
		RealizedPnLSOL: a.RealizedPnLSOL.StringFixed(4),
		Cursor:         a.LastProcessedSignature,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.HasBestPlay() {
		resp.BestPlay = &BestPlayEntry{
			Signature: a.BestPlaySignature,
			PnLUSD:    a.BestPlayPnLUSD.StringFixed(2),
			Summary:   a.BestPlaySummary,
		}
	}
	return resp
}

func walletEntry(w *domain.TrackedWallet) WalletEntry {
	return WalletEntry{Address: w.Address, Label: w.Label, CreatedAt: w.CreatedAt}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
