package poller

import (
	"context"
	"sync"

	"chainpulse/internal/config"
	"chainpulse/internal/metrics"
)

const unknownChainID = "unknown"

// chainRuntime is the per-chain mutable state owned by the manager. The poll
// loop is the only writer between reloads; the manager swaps the spec
// in-place between ticks under the runtime's own lock.
type chainRuntime struct {
	mu      sync.Mutex
	spec    config.ChainSpec
	chainID string
	labels  *metrics.LabelCache

	cancel context.CancelFunc
	done   chan struct{}
}

func newChainRuntime(spec config.ChainSpec) *chainRuntime {
	return &chainRuntime{
		spec:   spec,
		labels: metrics.NewLabelCache(),
		done:   make(chan struct{}),
	}
}

func (rt *chainRuntime) currentSpec() config.ChainSpec {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.spec
}

func (rt *chainRuntime) swapSpec(spec config.ChainSpec) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.spec = spec
}

func (rt *chainRuntime) chainIDLabel() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.chainID == "" {
		return unknownChainID
	}
	return rt.chainID
}

func (rt *chainRuntime) setChainID(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.chainID = id
}

func (rt *chainRuntime) labelCache() *metrics.LabelCache {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.labels
}

func (rt *chainRuntime) setLabelCache(cache *metrics.LabelCache) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.labels = cache
}
