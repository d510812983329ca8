package solana

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// FailoverClient sends every call to the primary RPC and retries it once on
// the fallback when the primary fails. A nil fallback disables failover.
type FailoverClient struct {
	primary  RPCClient
	fallback RPCClient
	logger   *zap.Logger
}

// NewFailoverClient creates a client over primary and an optional fallback.
func NewFailoverClient(primary, fallback RPCClient, logger *zap.Logger) *FailoverClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("rpc"),
	}
}

// GetSignaturesForAddress retrieves signatures for an address, newest first.
func (c *FailoverClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	sigs, err := c.primary.GetSignaturesForAddress(ctx, address, opts)
	if !c.shouldFailover(ctx, err) {
		return sigs, err
	}
	c.logger.Warn("primary rpc failed, trying fallback",
		zap.String("method", "getSignaturesForAddress"),
		zap.String("wallet", address),
		zap.Error(err))

	sigs, fbErr := c.fallback.GetSignaturesForAddress(ctx, address, opts)
	if fbErr != nil {
		return nil, errors.Wrapf(fbErr, "fallback after primary error (%v)", err)
	}
	return sigs, nil
}

// GetBalance retrieves the native balance of an account in lamports.
func (c *FailoverClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	lamports, err := c.primary.GetBalance(ctx, address)
	if !c.shouldFailover(ctx, err) {
		return lamports, err
	}
	c.logger.Warn("primary rpc failed, trying fallback",
		zap.String("method", "getBalance"),
		zap.String("wallet", address),
		zap.Error(err))

	lamports, fbErr := c.fallback.GetBalance(ctx, address)
	if fbErr != nil {
		return 0, errors.Wrapf(fbErr, "fallback after primary error (%v)", err)
	}
	return lamports, nil
}

// GetSlot retrieves the current slot.
func (c *FailoverClient) GetSlot(ctx context.Context) (int64, error) {
	slot, err := c.primary.GetSlot(ctx)
	if !c.shouldFailover(ctx, err) {
		return slot, err
	}

	slot, fbErr := c.fallback.GetSlot(ctx)
	if fbErr != nil {
		return 0, errors.Wrapf(fbErr, "fallback after primary error (%v)", err)
	}
	return slot, nil
}

func (c *FailoverClient) shouldFailover(ctx context.Context, err error) bool {
	return err != nil && c.fallback != nil && ctx.Err() == nil
}

var _ RPCClient = (*FailoverClient)(nil)
