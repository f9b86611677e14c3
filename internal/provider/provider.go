// Package provider connects to the upstream Ethereum node that the
// Interceptor wraps.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mbd888/walletguard/internal/retry"
)

var (
	ErrRPCConnection = errors.New("provider: RPC connection failed")
	ErrChainMismatch = errors.New("provider: unexpected chain id")
)

// Config for dialing the upstream node.
type Config struct {
	URL string
	// ExpectedChainID is verified on Dial when non-zero.
	ExpectedChainID int64
	// DialRetry governs dial and chain-id attempts. Zero uses retry.Default.
	DialRetry retry.Policy
}

// Upstream is the wallet provider. It satisfies interceptor.Provider.
type Upstream struct {
	rpc *rpc.Client
	eth *ethclient.Client
	url string
}

// Dial connects to cfg.URL, retrying transient failures.
func Dial(ctx context.Context, cfg Config) (*Upstream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	policy := cfg.DialRetry
	if policy.Attempts == 0 {
		policy = retry.Default
	}

	client, err := retry.Value(ctx, policy, func() (*rpc.Client, error) {
		return rpc.DialContext(ctx, cfg.URL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	u := NewFromClient(client)
	u.url = cfg.URL

	if cfg.ExpectedChainID != 0 {
		id, err := retry.Value(ctx, policy, func() (*big.Int, error) {
			return u.ChainID(ctx)
		})
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("%w: chain id: %v", ErrRPCConnection, err)
		}
		if id.Int64() != cfg.ExpectedChainID {
			u.Close()
			return nil, fmt.Errorf("%w: got %s, want %d", ErrChainMismatch, id, cfg.ExpectedChainID)
		}
	}
	return u, nil
}

// NewFromClient wraps an existing client, e.g. one from rpc.DialInProc.
func NewFromClient(c *rpc.Client) *Upstream {
	return &Upstream{rpc: c, eth: ethclient.NewClient(c)}
}

// CallContext forwards a raw JSON-RPC call.
func (u *Upstream) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return u.rpc.CallContext(ctx, result, method, args...)
}

// ChainID asks the node for its chain id.
func (u *Upstream) ChainID(ctx context.Context) (*big.Int, error) {
	return u.eth.ChainID(ctx)
}

// Ping is the health probe: the node must answer eth_chainId in time.
func (u *Upstream) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := u.ChainID(ctx)
	return err
}

// URL returns the dialed endpoint, empty for wrapped clients.
func (u *Upstream) URL() string { return u.url }

// Close releases the connection.
func (u *Upstream) Close() {
	u.rpc.Close()
}
