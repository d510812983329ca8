package solana

import "context"

// RPCClient defines the Solana RPC HTTP methods used by the tracker.
type RPCClient interface {
	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetBalance retrieves the native balance of an account in lamports.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
