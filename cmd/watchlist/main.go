// Package main provides the watchlist admin CLI: manage tracked wallets and
// inspect their ledgers directly against PostgreSQL, and look up tokens on
// DexScreener.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/api"
	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/logging"
	"solana-wallet-ledger/internal/pricing"
	"solana-wallet-ledger/internal/storage/migrations"
	pgstore "solana-wallet-ledger/internal/storage/postgres"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	mode := flag.String("mode", "list", "Command: add, remove, list, show, events, bestplays, token, token-info")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	dexURL := flag.String("dexscreener-url", envOr("DEXSCREENER_BASE_URL", pricing.DefaultBaseURL), "DexScreener API base URL for -mode token-info")
	jwtSecret := flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret for -mode token")
	owner := flag.String("owner", "", "Owner id")
	address := flag.String("address", "", "Wallet address, or token mint for -mode token-info")
	label := flag.String("label", "", "Wallet label for -mode add")
	limit := flag.Int("limit", 0, "Row limit for events and bestplays (0 = default)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime for -mode token")
	flag.Parse()

	if *mode == "token" {
		if err := issueToken(*jwtSecret, *owner, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *mode == "token-info" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		svc := api.NewService(nil, nil, nil, nil, nil, api.WithTokenSource(pricing.NewOracle(*dexURL)))
		err := tokenInfo(ctx, out, svc, *address)
		out.Flush()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *postgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn is required")
		os.Exit(1)
	}

	logger, err := logging.New("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
		os.Exit(1)
	}

	// No refresher or balance source: the CLI only touches the database.
	svc := api.NewService(pgstore.NewWatchlistStore(pool), pgstore.NewLedgerStore(pool), nil, nil, logger)

	out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer out.Flush()

	switch *mode {
	case "add":
		err = add(ctx, out, svc, *owner, *address, *label)
	case "remove":
		err = svc.RemoveWallet(ctx, *owner, *address)
		if err == nil {
			fmt.Fprintf(out, "removed %s from %s\n", *address, *owner)
		}
	case "list":
		err = list(ctx, out, svc, *owner)
	case "show":
		err = show(ctx, out, svc, *address)
	case "events":
		err = events(ctx, out, svc, *address, *limit)
	case "bestplays":
		err = bestPlays(ctx, out, svc, *owner, *limit)
	default:
		err = errors.Errorf("unknown mode %q", *mode)
	}

	if err != nil {
		out.Flush()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func add(ctx context.Context, out *tabwriter.Writer, svc *api.Service, owner, address, label string) error {
	w, err := svc.AddWallet(ctx, owner, address, label)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "added %s (%s) for %s\n", w.Address, w.DisplayName(), w.OwnerID)
	return nil
}

func list(ctx context.Context, out *tabwriter.Writer, svc *api.Service, owner string) error {
	wallets, err := svc.ListWallets(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "ADDRESS\tLABEL\tADDED")
	for _, w := range wallets {
		fmt.Fprintf(out, "%s\t%s\t%s\n", w.Address, w.Label, time.UnixMilli(w.CreatedAt).UTC().Format(time.RFC3339))
	}
	return nil
}

func show(ctx context.Context, out *tabwriter.Writer, svc *api.Service, address string) error {
	agg, err := svc.GetAggregate(ctx, address)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wallet\t%s\n", agg.WalletAddress)
	fmt.Fprintf(out, "trades\t%d (%d wins, %d losses)\n", agg.TotalTrades, agg.Wins, agg.Losses)
	fmt.Fprintf(out, "realized pnl\t$%s / %s SOL\n", agg.RealizedPnLUSD.StringFixed(2), agg.RealizedPnLSOL.StringFixed(4))
	if agg.HasBestPlay() {
		fmt.Fprintf(out, "best play\t%s\n", agg.BestPlaySummary)
		fmt.Fprintf(out, "\t%s\n", agg.BestPlaySignature)
	}
	if agg.LastProcessedSignature != "" {
		fmt.Fprintf(out, "cursor\t%s\n", agg.LastProcessedSignature)
	}

	positions, err := svc.GetPositions(ctx, address)
	if err != nil {
		return err
	}
	open := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "ASSET	QUANTITY	AVG COST (USD)")
	for _, p := range open {
		fmt.Fprintf(out, "%s\t%s\t%s\n", p.AssetID, p.Quantity.String(), p.AvgCostUSD.String())
	}
	return nil
}

func events(ctx context.Context, out *tabwriter.Writer, svc *api.Service, address string, limit int) error {
	rows, err := svc.GetRecentEvents(ctx, address, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "TIME\tSIGNATURE\tSUMMARY")
	for _, e := range rows {
		fmt.Fprintf(out, "%s\t%s\t%s\n", time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339), e.TxSignature, e.Summary)
	}
	return nil
}

func bestPlays(ctx context.Context, out *tabwriter.Writer, svc *api.Service, owner string, limit int) error {
	plays, err := svc.BestPlays(ctx, owner, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "#\tWALLET\tPNL\tSUMMARY")
	for i, p := range plays {
		fmt.Fprintf(out, "%d\t%s\t$%s\t%s\n", i+1, p.Label, p.PnLUSD.StringFixed(2), p.Summary)
	}
	return nil
}

func tokenInfo(ctx context.Context, out *tabwriter.Writer, svc *api.Service, mint string) error {
	info, err := svc.TokenInfo(ctx, mint)
	if errors.Is(err, pricing.ErrTokenNotFound) {
		fmt.Fprintln(out, "Token not found on DexScreener.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "token\t%s (%s)\n", info.Name, info.Symbol)
	fmt.Fprintf(out, "mint\t%s\n", info.Mint)
	fmt.Fprintf(out, "pair\t%s on %s\n", info.PairAddress, info.ChainID)
	fmt.Fprintf(out, "price\t$%s\n", info.PriceUSD.String())
	fmt.Fprintf(out, "market cap\t$%s (fdv $%s)\n", info.MarketCap.StringFixed(0), info.FDV.StringFixed(0))
	fmt.Fprintf(out, "liquidity\t$%s\n", info.LiquidityUSD.StringFixed(0))
	fmt.Fprintf(out, "volume\t1h $%s / 6h $%s / 24h $%s\n",
		info.VolumeH1.StringFixed(0), info.VolumeH6.StringFixed(0), info.VolumeH24.StringFixed(0))
	fmt.Fprintf(out, "txns 1h\t%d buys / %d sells\n", info.BuysH1, info.SellsH1)
	if info.ImageURL != "" {
		fmt.Fprintf(out, "image\t%s\n", info.ImageURL)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func issueToken(secret, owner string, ttl time.Duration) error {
	if owner == "" {
		return errors.New("--owner is required")
	}
	auth := api.NewAuthenticator(secret)
	if auth == nil {
		return errors.New("--jwt-secret is required")
	}
	token, err := auth.IssueToken(owner, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
