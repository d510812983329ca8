// Package main runs the wallet ledger service:
// - Supervisor (continuous): one poller per tracked wallet, push wakeups over websocket
// - Ledger: average-cost realized PnL per wallet, archived to ClickHouse
// - HTTP API: aggregates, recent events, watchlists, health/metrics/status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/api"
	"solana-wallet-ledger/internal/config"
	"solana-wallet-ledger/internal/helius"
	"solana-wallet-ledger/internal/ledger"
	"solana-wallet-ledger/internal/logging"
	"solana-wallet-ledger/internal/normalizer"
	"solana-wallet-ledger/internal/poller"
	"solana-wallet-ledger/internal/pricing"
	"solana-wallet-ledger/internal/solana"
	"solana-wallet-ledger/internal/storage"
	chstore "solana-wallet-ledger/internal/storage/clickhouse"
	"solana-wallet-ledger/internal/storage/memory"
	"solana-wallet-ledger/internal/storage/migrations"
	pgstore "solana-wallet-ledger/internal/storage/postgres"
	"solana-wallet-ledger/internal/supervisor"
)

// allStores holds all storage implementations.
type allStores struct {
	watchlist storage.WatchlistStore
	ledger    storage.LedgerStore
	archive   storage.EventArchive // nil disables archiving
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: config.yaml if present)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !*useMemory && cfg.Storage.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required (use --use-memory for in-memory storage)")
	}

	logger.Info("starting wallet ledger",
		zap.String("rpc", cfg.Solana.RPCURL),
		zap.Bool("fallback_rpc", cfg.Solana.FallbackRPCURL != ""),
		zap.Bool("websocket", cfg.Solana.WSURL != ""),
		zap.String("helius_key", cfg.MaskedHeliusKey()),
		zap.Bool("memory", *useMemory))

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, cfg.Storage, *useMemory)
	if err != nil {
		logger.Fatal("failed to create stores", zap.Error(err))
	}
	defer cleanup()

	// Channel to signal completion
	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// A second signal or a stuck apply phase forces the exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.Polling.ApplyTimeout + 30*time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, stores, logger)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg config.StorageConfig, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			watchlist: memory.NewWatchlistStore(),
			ledger:    memory.NewLedgerStore(),
			archive:   memory.NewEventArchive(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to postgres")
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "postgres migrations")
	}

	stores := &allStores{
		watchlist: pgstore.NewWatchlistStore(pool),
		ledger:    pgstore.NewLedgerStore(pool),
	}
	cleanup := func() { pool.Close() }

	// ClickHouse (optional analytics archive)
	if cfg.ClickHouseDSN != "" {
		var chConn *chstore.Conn
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "clickhouse migrations")
		}
		stores.archive = chstore.NewSwapArchive(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// run wires every component and blocks until ctx is cancelled or one fails.
func run(ctx context.Context, cfg *config.Config, stores *allStores, logger *zap.Logger) error {
	rpc := newRPCClient(cfg, logger)

	heliusClient := helius.NewClient(cfg.Helius.APIKey, cfg.Helius.BaseURL, helius.WithLogger(logger))

	var cache pricing.Cache = pricing.NewMemoryCache()
	if cfg.Storage.RedisAddr != "" {
		cache = pricing.NewCache(ctx, pricing.RedisConfig{
			Address:  cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		}, logger)
		if rc, ok := cache.(*pricing.RedisCache); ok {
			defer rc.Close()
		}
	}
	oracle := pricing.NewOracle(cfg.Pricing.DexScreenerURL,
		pricing.WithCache(cache, cfg.Pricing.CacheTTL),
		pricing.WithTimeout(cfg.Pricing.Timeout),
		pricing.WithLogger(logger))

	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if stores.archive != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithArchive(stores.archive))
	}
	led := ledger.New(stores.ledger, oracle, ledgerOpts...)
	norm := normalizer.New(logger)

	pollCfg := poller.Config{
		PageSize:     cfg.Polling.PageSize,
		MaxBatch:     cfg.Polling.MaxBatch,
		Interval:     cfg.Polling.Interval,
		ErrorBackoff: cfg.Polling.ErrorBackoff,
		CallTimeout:  cfg.Polling.CallTimeout,
		ApplyTimeout: cfg.Polling.ApplyTimeout,

		MissingRetries: cfg.Polling.MissingRetries,
	}

	var ws solana.WSClient
	if cfg.Solana.WSURL != "" {
		wsClient, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, nil, logger)
		if err != nil {
			logger.Warn("websocket unavailable, polling only", zap.Error(err))
		} else {
			ws = wsClient
			defer wsClient.Close()
		}
	}

	sup := supervisor.New(supervisor.Options{
		Addresses: stores.watchlist,
		NewTracker: func(address string) supervisor.Tracker {
			return poller.New(poller.Options{
				Wallet:       address,
				Config:       pollCfg,
				Signatures:   rpc,
				Transactions: heliusClient,
				Normalizer:   norm,
				Ledger:       led,
				Cursors:      stores.ledger,
				Logger:       logger,
			})
		},
		WS:                ws,
		ReconcileInterval: cfg.Polling.ReconcileInterval,
		Logger:            logger,
	})

	svcOpts := []api.ServiceOption{api.WithTokenSource(oracle)}
	if stores.archive != nil {
		svcOpts = append(svcOpts, api.WithSwapHistory(stores.archive))
	}
	svc := api.NewService(stores.watchlist, stores.ledger, sup, rpc, logger, svcOpts...)
	httpServer := api.NewServer(svc,
		api.WithStatusSource(sup),
		api.WithRPCHealth(rpc),
		api.WithAuthenticator(api.NewAuthenticator(cfg.HTTP.JWTSecret)),
		api.WithServerLogger(logger))

	return runServices(ctx, cfg.Polling.ApplyTimeout,
		func(ctx context.Context) error { return sup.Run(ctx) },
		func(ctx context.Context) error { return httpServer.ListenAndServe(ctx, cfg.HTTP.Addr) })
}

// runServices runs the supervisor and the HTTP server until ctx is cancelled
// or either one fails. In both cases the supervisor is cancelled and its
// pollers get up to drainTimeout to finish their in-flight batch before the
// stores close.
func runServices(ctx context.Context, drainTimeout time.Duration, supervise, serve func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	supDone := make(chan struct{})

	go func() {
		defer close(supDone)
		if err := supervise(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- errors.Wrap(err, "supervisor")
		}
	}()

	go func() {
		if err := serve(ctx); err != nil {
			errCh <- errors.Wrap(err, "http server")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
		cancel()
	}

	select {
	case <-supDone:
		return runErr
	case <-time.After(drainTimeout):
		return errors.Wrap(runErr, "pollers still running after shutdown timeout")
	}
}

// newRPCClient builds the primary RPC client with an optional fallback.
func newRPCClient(cfg *config.Config, logger *zap.Logger) *solana.FailoverClient {
	opts := []solana.ClientOption{
		solana.WithTimeout(cfg.Polling.CallTimeout),
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithRetryDelay(cfg.Solana.RetryDelay),
		solana.WithMaxDelay(cfg.Solana.MaxRetryDelay),
	}
	primary := solana.NewHTTPClient(cfg.Solana.RPCURL, opts...)

	var fallback solana.RPCClient
	if cfg.Solana.FallbackRPCURL != "" {
		fallback = solana.NewHTTPClient(cfg.Solana.FallbackRPCURL, opts...)
	}
	return solana.NewFailoverClient(primary, fallback, logger)
}
