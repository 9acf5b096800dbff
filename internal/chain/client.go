package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Caller abstracts read-only contract calls so feed and token readers can be
// faked in tests.
type Caller interface {
	Call(ctx context.Context, to common.Address, payload []byte) ([]byte, error)
}

// Options parameterise the RPC client.
type Options struct {
	RPCURL  string
	Timeout time.Duration
}

// Client wraps an Ethereum RPC endpoint with lazy dialling and a shared
// request timeout.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds an RPC client handle. The connection is established on
// first use.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	return &Client{opts: opts, logger: logger.With().Str("component", "chain_client").Logger()}
}

// Call performs an eth_call against the given contract.
func (c *Client) Call(ctx context.Context, to common.Address, payload []byte) ([]byte, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	eth, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	return eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
}

// BlockNumber reports the current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	eth, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}
	return eth.BlockNumber(ctx)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Caller = (*Client)(nil)
