package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chainpulse/internal/config"
	"chainpulse/internal/health"
	"chainpulse/internal/metrics"
	"chainpulse/internal/rpcclient"
	"chainpulse/pkg/logger"
)

// Manager owns the set of active chain runtimes keyed by chain name and the
// lifecycle of their poll loops. Its lock guards only set mutations, never
// RPC calls; a poll loop never takes the manager lock.
type Manager struct {
	mu     sync.Mutex
	chains map[string]*chainRuntime

	collector  *Collector
	metrics    *metrics.Metrics
	health     *health.State
	settings   *config.Settings
	pool       *rpcclient.Pool
	classifier *rpcclient.Classifier
	log        *logger.Logger

	baseCtx context.Context
}

func NewManager(settings *config.Settings, m *metrics.Metrics, state *health.State, pool *rpcclient.Pool, classifier *rpcclient.Classifier, log *logger.Logger) *Manager {
	return &Manager{
		chains:     make(map[string]*chainRuntime),
		collector:  NewCollector(pool, classifier, m, log),
		metrics:    m,
		health:     state,
		settings:   settings,
		pool:       pool,
		classifier: classifier,
		log:        log,
	}
}

// Start creates runtime state and spawns one poll loop per spec. With warm
// enabled, one synchronous collection runs per chain first so metrics are
// populated before readiness can flip healthy; warm failures never block
// startup. Exactly one loop exists per active chain at any time.
func (m *Manager) Start(ctx context.Context, specs []config.ChainSpec, warm bool) {
	m.mu.Lock()
	m.baseCtx = ctx

	created := make([]*chainRuntime, 0, len(specs))
	for _, spec := range specs {
		if _, exists := m.chains[spec.Name]; exists {
			continue
		}
		rt := newChainRuntime(spec)
		m.chains[spec.Name] = rt
		m.health.Track(spec.Name)
		created = append(created, rt)
	}
	m.mu.Unlock()

	if warm {
		m.warmPoll(ctx, created)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range created {
		m.spawnLocked(ctx, rt)
	}

	m.health.MarkStarted()
	m.updateExporterGaugesLocked()
}

func (m *Manager) spawnLocked(ctx context.Context, rt *chainRuntime) {
	loopCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	go m.runLoop(loopCtx, rt)
}

// warmPoll runs one collection per runtime concurrently, bounded by the warm
// poll timeout. Chains that miss the deadline are left to their loops.
func (m *Manager) warmPoll(ctx context.Context, runtimes []*chainRuntime) {
	warmCtx, cancel := context.WithTimeout(ctx, m.settings.Poller.WarmPollTimeout)
	defer cancel()

	g, groupCtx := errgroup.WithContext(warmCtx)
	for _, rt := range runtimes {
		rt := rt
		g.Go(func() error {
			spec := rt.currentSpec()
			interval := spec.Interval(m.settings.Poller.DefaultInterval)

			result, tick := m.collector.Collect(groupCtx, rt)

			consecutive := 0
			if !result.OK {
				consecutive = 1
				m.log.Warn("Warm poll failed for %s (%s)", spec.Name, result.ErrorKind)
			} else {
				m.log.Debug("Warm poll succeeded for %s", spec.Name)
			}
			m.recordOutcome(rt, spec.Name, result, tick, consecutive, interval)
			return nil
		})
	}
	_ = g.Wait()
}

// StopAll cancels every loop and waits up to grace for them to drain. State
// is cleared regardless: an RPC round trip that outlives the deadline is
// abandoned to finish on its own.
func (m *Manager) StopAll(grace time.Duration) {
	m.mu.Lock()
	runtimes := make([]*chainRuntime, 0, len(m.chains))
	for _, rt := range m.chains {
		runtimes = append(runtimes, rt)
	}
	m.chains = make(map[string]*chainRuntime)
	m.updateExporterGaugesLocked()
	m.mu.Unlock()

	for _, rt := range runtimes {
		if rt.cancel != nil {
			rt.cancel()
		}
	}

	deadline := time.After(grace)
	for _, rt := range runtimes {
		select {
		case <-rt.done:
		case <-deadline:
			m.log.Warn("Poll loops did not drain within %s; abandoning", grace)
			return
		}
	}
}

// Specs returns the current spec set.
func (m *Manager) Specs() []config.ChainSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	specs := make([]config.ChainSpec, 0, len(m.chains))
	for _, rt := range m.chains {
		specs = append(specs, rt.currentSpec())
	}
	return specs
}

// ActiveCount returns the number of chains with a live poll loop.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}

// ApplyReload diffs the running spec set against next and applies the plan:
// removed chains stop and their series prune; added chains start; chains with
// only non-identity changes swap their spec between ticks, keeping series
// continuous.
func (m *Manager) ApplyReload(next []config.ChainSpec) Plan {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make([]config.ChainSpec, 0, len(m.chains))
	for _, rt := range m.chains {
		current = append(current, rt.currentSpec())
	}

	plan := Diff(current, next)

	for _, name := range plan.Remove {
		rt, ok := m.chains[name]
		if !ok {
			continue
		}
		delete(m.chains, name)

		if rt.cancel != nil {
			rt.cancel()
		}
		select {
		case <-rt.done:
		case <-time.After(m.settings.Poller.RPCRequestTimeout + time.Second):
			m.log.Warn("Poll loop for %s did not stop promptly during reload", name)
		}

		m.metrics.PruneCache(rt.labelCache())
		m.metrics.PruneChainInstruments(name)
		m.health.Remove(name)
		m.classifier.Forget(name)

		url := rt.currentSpec().RPCURL
		if !m.urlInUseLocked(url) {
			m.pool.Drop(url)
		}

		m.log.Info("Removed chain %s on reload", name)
	}

	for _, spec := range plan.Replace {
		if rt, ok := m.chains[spec.Name]; ok {
			rt.swapSpec(spec)
			m.log.Info("Updated chain %s in place on reload", spec.Name)
		}
	}

	ctx := m.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, spec := range plan.Add {
		if _, exists := m.chains[spec.Name]; exists {
			continue
		}
		rt := newChainRuntime(spec)
		m.chains[spec.Name] = rt
		m.health.Track(spec.Name)
		m.spawnLocked(ctx, rt)
		m.log.Info("Added chain %s on reload", spec.Name)
	}

	m.updateExporterGaugesLocked()
	return plan
}

func (m *Manager) urlInUseLocked(url string) bool {
	for _, rt := range m.chains {
		if rt.currentSpec().RPCURL == url {
			return true
		}
	}
	return false
}

func (m *Manager) updateExporterGaugesLocked() {
	m.metrics.Exporter.ConfiguredBlockchains.Set(float64(len(m.chains)))
	m.metrics.Exporter.PollerCount.Set(float64(len(m.chains)))
}
