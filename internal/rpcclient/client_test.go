package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu           sync.Mutex
	chainIDFn    func() (*big.Int, error)
	headerFn     func(number *big.Int) (*types.Header, error)
	balanceFn    func(account common.Address) (*big.Int, error)
	codeFn       func(account common.Address) ([]byte, error)
	callFn       func(msg ethereum.CallMsg) ([]byte, error)
	filterFn     func(q ethereum.FilterQuery) ([]types.Log, error)
	chainIDCalls int
	filterCalls  int
	closed       bool
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	f.chainIDCalls++
	f.mu.Unlock()
	if f.chainIDFn == nil {
		return big.NewInt(1), nil
	}
	return f.chainIDFn()
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.headerFn == nil {
		return &types.Header{Number: big.NewInt(100), Time: uint64(time.Now().Unix())}, nil
	}
	return f.headerFn(number)
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.balanceFn == nil {
		return big.NewInt(0), nil
	}
	return f.balanceFn(account)
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if f.codeFn == nil {
		return nil, nil
	}
	return f.codeFn(account)
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callFn == nil {
		return nil, &jsonRPCError{code: 3, msg: "execution reverted"}
	}
	return f.callFn(msg)
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	f.filterCalls++
	f.mu.Unlock()
	if f.filterFn == nil {
		return nil, nil
	}
	return f.filterFn(q)
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeObserver struct {
	mu        sync.Mutex
	durations int
	errors    map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{errors: make(map[string]int)}
}

func (o *fakeObserver) ObserveRPCDuration(chain, operation string, seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.durations++
}

func (o *fakeObserver) CountRPCError(chain, operation, category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors[operation+"/"+category]++
}

func (o *fakeObserver) errorCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errors[key]
}

func newTestClient(backend Backend, observer Observer) *Client {
	client := NewClient(backend, "testchain", time.Second, observer)
	return client
}

func TestClientChainID(t *testing.T) {
	backend := &fakeBackend{chainIDFn: func() (*big.Int, error) { return big.NewInt(137), nil }}
	client := newTestClient(backend, newFakeObserver())

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(137), id)
}

func TestClientRetriesTransientErrors(t *testing.T) {
	attempts := 0
	backend := &fakeBackend{chainIDFn: func() (*big.Int, error) {
		attempts++
		if attempts < 3 {
			return nil, &jsonRPCError{code: -32005, msg: "rate limited"}
		}
		return big.NewInt(1), nil
	}}
	observer := newFakeObserver()
	client := newTestClient(backend, observer)

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, observer.errorCount("chain_id/rpc"))
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	// Balance has a multi-attempt budget, so a single attempt shows the
	// permanent error stopped the retry loop.
	backend := &fakeBackend{balanceFn: func(common.Address) (*big.Int, error) {
		attempts++
		return nil, &jsonRPCError{code: -32602, msg: "invalid params"}
	}}
	client := newTestClient(backend, newFakeObserver())

	_, err := client.Balance(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, CategoryRPC, callErr.Category)
	assert.True(t, callErr.Permanent)
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	backend := &fakeBackend{balanceFn: func(common.Address) (*big.Int, error) {
		attempts++
		return nil, &jsonRPCError{code: -32005, msg: "rate limited"}
	}}
	client := newTestClient(backend, newFakeObserver())

	_, err := client.Balance(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, maxCallAttempts, attempts)
}

func TestClientLogsSingleAttempt(t *testing.T) {
	backend := &fakeBackend{filterFn: func(q ethereum.FilterQuery) ([]types.Log, error) {
		return nil, &jsonRPCError{code: -32000, msg: "block range too wide"}
	}}
	client := newTestClient(backend, newFakeObserver())

	_, err := client.Logs(context.Background(), 100, 199, common.Address{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, backend.filterCalls)
	assert.True(t, IsTooLargeRange(err))
}

func TestClientErrorsAreCategorised(t *testing.T) {
	backend := &fakeBackend{balanceFn: func(common.Address) (*big.Int, error) {
		return nil, context.DeadlineExceeded
	}}
	observer := newFakeObserver()
	client := newTestClient(backend, observer)

	_, err := client.Balance(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, CategoryTimeout, ErrorCategory(err))
	assert.Equal(t, maxCallAttempts, observer.errorCount("get_balance/timeout"))
}
