package rpcclient

import (
	"context"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	maxCallAttempts  = 3
	retryInitialWait = 500 * time.Millisecond
	retryMaxWait     = 5 * time.Second
)

// Backend is the narrow surface the exporter needs from an EVM JSON-RPC
// transport. ethclient.Client satisfies it; tests supply fakes.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Observer receives per-attempt telemetry from the client.
type Observer interface {
	ObserveRPCDuration(chain, operation string, seconds float64)
	CountRPCError(chain, operation, category string)
}

// Client wraps a Backend with per-call timeouts, categorised errors, bounded
// retries, and call telemetry. One Client exists per chain endpoint.
type Client struct {
	backend  Backend
	chain    string
	timeout  time.Duration
	observer Observer
}

// NewClient wraps a backend for the named chain.
func NewClient(backend Backend, chain string, timeout time.Duration, observer Observer) *Client {
	return &Client{
		backend:  backend,
		chain:    chain,
		timeout:  timeout,
		observer: observer,
	}
}

// Close releases the underlying transport.
func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) call(ctx context.Context, op string, attempts uint, fn func(context.Context) error) error {
	return retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := fn(attemptCtx)
			c.observer.ObserveRPCDuration(c.chain, op, time.Since(start).Seconds())

			if err != nil {
				wrapped := Categorize(op, err)
				c.observer.CountRPCError(c.chain, op, string(wrapped.Category))
				return wrapped
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(retryInitialWait),
		retry.MaxDelay(retryMaxWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
	)
}

// ChainID returns the chain identifier reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id *big.Int
	err := c.call(ctx, "chain_id", maxCallAttempts, func(ctx context.Context) error {
		var callErr error
		id, callErr = c.backend.ChainID(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

// HeadHeader returns the latest block header.
func (c *Client) HeadHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "block_number", maxCallAttempts, func(ctx context.Context) error {
		var callErr error
		header, callErr = c.backend.HeaderByNumber(ctx, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// FinalizedHeader returns the finalized block header. Endpoints without a
// finalized tag surface a categorised rpc error; a single attempt is made.
func (c *Client) FinalizedHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "finalized_block_number", 1, func(ctx context.Context) error {
		var callErr error
		header, callErr = c.backend.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// Balance returns the native-token balance of an address at the latest block.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "get_balance", maxCallAttempts, func(ctx context.Context) error {
		var callErr error
		balance, callErr = c.backend.BalanceAt(ctx, address, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Code returns the deployed bytecode of an address at the latest block.
func (c *Client) Code(ctx context.Context, address common.Address) ([]byte, error) {
	var code []byte
	err := c.call(ctx, "get_code", maxCallAttempts, func(ctx context.Context) error {
		var callErr error
		code, callErr = c.backend.CodeAt(ctx, address, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// Call executes a read-only contract call against the latest block. Reverts
// surface as categorised rpc errors and are not retried beyond one attempt.
func (c *Client) Call(ctx context.Context, address common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &address, Data: data}

	var result []byte
	err := c.call(ctx, "call", 1, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.backend.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logs fetches event logs for an address and topic set over an inclusive
// block range. A single attempt is made: the chunker owns the split-and-retry
// policy for this operation.
func (c *Client) Logs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    topics,
	}

	var logs []types.Log
	err := c.call(ctx, "get_logs", 1, func(ctx context.Context) error {
		var callErr error
		logs, callErr = c.backend.FilterLogs(ctx, query)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// ChainName returns the symbolic chain name this client serves.
func (c *Client) ChainName() string {
	return c.chain
}
