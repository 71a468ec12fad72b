package poller

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainpulse/internal/metrics"
)

// runLoop is the cooperative poll loop for one chain. Each chain runs its
// own goroutine, so a stuck RPC call on one chain cannot delay another.
// Cancellation interrupts the sleep phase promptly; an in-flight RPC round
// trip completes or times out first.
func (m *Manager) runLoop(ctx context.Context, rt *chainRuntime) {
	defer close(rt.done)

	spec := rt.currentSpec()
	interval := spec.Interval(m.settings.Poller.DefaultInterval)
	m.log.Info("Polling %s every %s", spec.Name, interval)

	backoff := interval
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Poll loop for %s cancelled", spec.Name)
			return
		default:
		}

		spec = rt.currentSpec()
		interval = spec.Interval(m.settings.Poller.DefaultInterval)

		start := time.Now()
		result, tick := m.collector.Collect(ctx, rt)
		elapsed := time.Since(start)

		m.metrics.Chain.PollDuration.WithLabelValues(spec.Name).Observe(elapsed.Seconds())

		if result.OK {
			consecutiveFailures = 0
			backoff = interval
		} else {
			consecutiveFailures++
			if consecutiveFailures == 1 {
				backoff = interval
			} else {
				backoff = backoff * 2
			}
			if backoff > m.settings.Poller.MaxFailureBackoff {
				backoff = m.settings.Poller.MaxFailureBackoff
			}
			m.metrics.Chain.BackoffDuration.WithLabelValues(spec.Name).Observe(backoff.Seconds())
		}

		m.recordOutcome(rt, spec.Name, result, tick, consecutiveFailures, backoff)

		if !result.OK {
			m.log.WithFields("warn", "Poll cycle failed", map[string]interface{}{
				"chain":                spec.Name,
				"error_kind":           result.ErrorKind,
				"consecutive_failures": consecutiveFailures,
				"backoff_seconds":      backoff.Seconds(),
			})
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Debug("Poll loop for %s cancelled", spec.Name)
			return
		case <-timer.C:
		}
	}
}

// recordOutcome publishes the tick's verdict gauges, reconciles the chain's
// label cache, and updates health state. On success, series the current spec
// no longer produces are pruned; on failure the caches merge so every live
// series stays accounted for.
func (m *Manager) recordOutcome(rt *chainRuntime, chain string, result Result, tick *metrics.LabelCache, consecutiveFailures int, backoff time.Duration) {
	chainID := rt.chainIDLabel()
	labels := prometheus.Labels{"chain": chain, "chain_id": chainID}

	m.metrics.SetGauge(tick, metrics.FamilyPollConsecutiveFailures, labels, float64(consecutiveFailures))

	if result.OK {
		m.metrics.SetGauge(tick, metrics.FamilyPollSuccess, labels, 1)
		m.metrics.SetGauge(tick, metrics.FamilyPollTimestamp, labels, float64(time.Now().Unix()))

		m.metrics.PruneMissing(rt.labelCache(), tick)
		rt.setLabelCache(tick)

		m.health.RecordSuccess(chain, chainID, backoff)
		return
	}

	m.metrics.SetGauge(tick, metrics.FamilyPollSuccess, labels, 0)

	rt.labelCache().Merge(tick)
	m.health.RecordFailure(chain, chainID, result.ErrorKind, consecutiveFailures, backoff)
}
