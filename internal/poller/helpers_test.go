package poller

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	dto "github.com/prometheus/client_model/go"

	"chainpulse/internal/config"
	"chainpulse/internal/health"
	"chainpulse/internal/metrics"
	"chainpulse/internal/rpcclient"
	"chainpulse/pkg/logger"
)

// jsonRPCError mimics the error surface of go-ethereum's rpc package.
type jsonRPCError struct {
	code int
	msg  string
}

func (e *jsonRPCError) Error() string  { return e.msg }
func (e *jsonRPCError) ErrorCode() int { return e.code }

// fakeBackend is a scriptable in-memory rpcclient.Backend.
type fakeBackend struct {
	mu          sync.Mutex
	chainID     *big.Int
	chainIDErr  error
	headNumber  uint64
	headTime    uint64
	headErr     error
	balances    map[common.Address]*big.Int
	code        map[common.Address][]byte
	callFn      func(msg ethereum.CallMsg) ([]byte, error)
	filterFn    func(q ethereum.FilterQuery) ([]types.Log, error)
	filterCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:    big.NewInt(1),
		headNumber: 1000,
		headTime:   uint64(time.Now().Unix()),
		balances:   make(map[common.Address]*big.Int),
		code:       make(map[common.Address][]byte),
	}
}

func (f *fakeBackend) setChainID(id *big.Int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = id
	f.chainIDErr = err
}

func (f *fakeBackend) filterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterCalls
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return f.chainID, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &types.Header{Number: new(big.Int).SetUint64(f.headNumber), Time: f.headTime}, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[account]; ok {
		return balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
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
	fn := f.filterFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(q)
}

func (f *fakeBackend) Close() {}

// harness bundles a manager wired to fake backends, one per RPC URL.
type harness struct {
	backends map[string]*fakeBackend
	bundle   *metrics.Metrics
	state    *health.State
	pool     *rpcclient.Pool
	manager  *Manager
	settings *config.Settings
}

func testSettings() *config.Settings {
	return &config.Settings{
		Poller: config.PollerSettings{
			DefaultInterval:   10 * time.Millisecond,
			MaxFailureBackoff: 80 * time.Millisecond,
			RPCRequestTimeout: time.Second,
			WarmPollTimeout:   time.Second,
		},
		Health: config.HealthSettings{ReadinessStaleThreshold: time.Minute},
	}
}

func testLogger() *logger.Logger {
	return logger.New("error", false, "", "text")
}

func newHarness(backends map[string]*fakeBackend) *harness {
	bundle := metrics.New()
	state := health.NewState()

	pool := rpcclient.NewPoolWithDialer(time.Second, bundle, func(ctx context.Context, url string) (rpcclient.Backend, error) {
		if backend, ok := backends[url]; ok {
			return backend, nil
		}
		return newFakeBackend(), nil
	})

	settings := testSettings()
	classifier := rpcclient.NewClassifier()
	manager := NewManager(settings, bundle, state, pool, classifier, testLogger())

	return &harness{
		backends: backends,
		bundle:   bundle,
		state:    state,
		pool:     pool,
		manager:  manager,
		settings: settings,
	}
}

func gaugeSeriesForChain(bundle *metrics.Metrics, chain string) int {
	families, err := bundle.Registry.Gather()
	if err != nil {
		return -1
	}

	count := 0
	for _, family := range families {
		if family.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "chain" && label.GetValue() == chain {
					count++
				}
			}
		}
	}
	return count
}

func chainIDValues(bundle *metrics.Metrics, chain string) map[string]bool {
	out := make(map[string]bool)

	families, err := bundle.Registry.Gather()
	if err != nil {
		return out
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			matchesChain := false
			chainID := ""
			for _, label := range metric.GetLabel() {
				if label.GetName() == "chain" && label.GetValue() == chain {
					matchesChain = true
				}
				if label.GetName() == "chain_id" {
					chainID = label.GetValue()
				}
			}
			if matchesChain && chainID != "" {
				out[chainID] = true
			}
		}
	}
	return out
}
