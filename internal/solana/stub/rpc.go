package stub

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"solana-wallet-ledger/internal/solana"
)

// ErrNotFound is returned when an account is unknown to the stub.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Signatures are stored newest first, the order the RPC returns them.
type RPCClient struct {
	mu sync.Mutex

	Signatures map[string][]solana.SignatureInfo
	Balances   map[string]uint64
	Slot       int64

	// Err, when set, is returned by every call.
	Err error

	calls []solana.SignaturesOpts
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Signatures: make(map[string][]solana.SignatureInfo),
		Balances:   make(map[string]uint64),
	}
}

// GetSignaturesForAddress returns stored signatures newer than opts.Until,
// honoring Before and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var o solana.SignaturesOpts
	if opts != nil {
		o = *opts
	}
	c.calls = append(c.calls, o)

	if c.Err != nil {
		return nil, c.Err
	}

	sigs := c.Signatures[address]
	start := 0
	if o.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == o.Before {
				start = i + 1
				break
			}
		}
	}

	var result []solana.SignatureInfo
	for _, s := range sigs[start:] {
		if o.Until != "" && s.Signature == o.Until {
			break
		}
		result = append(result, s)
		if o.Limit > 0 && len(result) == o.Limit {
			break
		}
	}
	return result, nil
}

// GetBalance returns the stored lamport balance.
func (c *RPCClient) GetBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return 0, c.Err
	}
	balance, ok := c.Balances[address]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

// GetSlot returns the stored slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return 0, c.Err
	}
	return c.Slot, nil
}

// AddSignatures prepends newer signatures for an address. sigs must be newest first.
func (c *RPCClient) AddSignatures(address string, sigs ...solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Signatures[address] = append(append([]solana.SignatureInfo{}, sigs...), c.Signatures[address]...)
}

// SetError makes every subsequent call fail with err. Pass nil to recover.
func (c *RPCClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// Calls returns the options of every GetSignaturesForAddress call so far.
func (c *RPCClient) Calls() []solana.SignaturesOpts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]solana.SignaturesOpts(nil), c.calls...)
}

var _ solana.RPCClient = (*RPCClient)(nil)
