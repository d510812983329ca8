package domain

import "github.com/shopspring/decimal"

// TokenInfo is a market snapshot of a token taken from its most liquid pair.
type TokenInfo struct {
	Mint         string
	Name         string
	Symbol       string
	ChainID      string
	PairAddress  string
	ImageURL     string
	PriceUSD     decimal.Decimal
	FDV          decimal.Decimal
	MarketCap    decimal.Decimal
	LiquidityUSD decimal.Decimal
	VolumeH1     decimal.Decimal
	VolumeH6     decimal.Decimal
	VolumeH24    decimal.Decimal
	BuysH1       int
	SellsH1      int
}
